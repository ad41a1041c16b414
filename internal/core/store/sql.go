package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/relaybot/relaybot/internal/config"
)

const memoryPath = ":memory:"

var errSQLClosed = errors.New("libsql store is not open")

// SQLStore keeps namespaces in the kv_entries table of a libsql database,
// local or remote.
type SQLStore struct {
	DB     *sql.DB
	driver string
}

// OpenSQL connects to the database cfg points at and brings its schema up to
// date.
func OpenSQL(ctx context.Context, cfg config.StoreConfig) (*SQLStore, error) {
	dsn, err := libsqlDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(DriverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}
	if dsn == memoryPath {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping libsql store: %w", err)
	}

	s := &SQLStore{DB: db, driver: DriverLibsql}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Driver names the backing driver.
func (s *SQLStore) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

func (s *SQLStore) LoadAll(ctx context.Context, namespace string) (map[string][]byte, error) {
	if s == nil || s.DB == nil {
		return nil, errSQLClosed
	}
	if err := validNamespace(namespace); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT key, value FROM kv_entries WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	defer rows.Close() // nolint:errcheck

	entries := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		entries[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", namespace, err)
	}
	return entries, nil
}

// SaveAll upserts every entry and removes keys no longer present, all in one
// transaction.
func (s *SQLStore) SaveAll(ctx context.Context, namespace string, entries map[string][]byte) error {
	if s == nil || s.DB == nil {
		return errSQLClosed
	}
	if err := validNamespace(namespace); err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", namespace, err)
	}
	defer tx.Rollback() // nolint:errcheck

	stale, err := staleKeys(ctx, tx, namespace, entries)
	if err != nil {
		return err
	}
	for _, key := range stale {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM kv_entries WHERE namespace = ? AND key = ?`, namespace, key); err != nil {
			return fmt.Errorf("delete %s/%s: %w", namespace, key, err)
		}
	}

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO kv_entries (namespace, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (namespace, key) DO UPDATE
		SET value = excluded.value, updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare save %s: %w", namespace, err)
	}
	defer upsert.Close() // nolint:errcheck

	now := time.Now().UTC().Unix()
	for key, value := range entries {
		if _, err := upsert.ExecContext(ctx, namespace, key, value, now); err != nil {
			return fmt.Errorf("save %s/%s: %w", namespace, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", namespace, err)
	}
	return nil
}

func staleKeys(ctx context.Context, tx *sql.Tx, namespace string, keep map[string][]byte) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT key FROM kv_entries WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	defer rows.Close() // nolint:errcheck

	var stale []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan %s: %w", namespace, err)
		}
		if _, ok := keep[key]; !ok {
			stale = append(stale, key)
		}
	}
	return stale, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return errSQLClosed
	}
	return s.DB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// libsqlDSN turns the store config into a go-libsql DSN. URL takes precedence
// over Path. Remote DSNs carry the auth token as a query parameter; local
// paths get their parent directory created.
func libsqlDSN(cfg config.StoreConfig) (string, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		return withAuthToken(raw, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == memoryPath:
		return path, nil
	case hasScheme(path, "libsql", "http", "https", "wss"):
		return withAuthToken(path, cfg.AuthToken)
	case hasScheme(path, "file"):
		local := strings.TrimPrefix(strings.TrimPrefix(path, "file:"), "//")
		if i := strings.IndexByte(local, '?'); i >= 0 {
			local = local[:i]
		}
		if err := ensureParentDir(local); err != nil {
			return "", err
		}
		return path, nil
	default:
		if err := ensureParentDir(path); err != nil {
			return "", err
		}
		return "file:" + filepath.Clean(path), nil
	}
}

func hasScheme(dsn string, schemes ...string) bool {
	for _, scheme := range schemes {
		if strings.HasPrefix(dsn, scheme+":") {
			return true
		}
	}
	return false
}

func withAuthToken(dsn, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") == "" {
		query.Set("authToken", token)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- shared data directory
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
