package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relaybot/relaybot/internal/config"
)

const (
	DriverFile   = "file"
	DriverLibsql = "libsql"
	DriverRedis  = "redis"
)

// Namespaces used by the bot.
const (
	NamespaceRateWindows = "rate_windows"
	NamespaceSubjects    = "subjects"
)

// ErrCorrupt reports stored data that could not be decoded.
var ErrCorrupt = errors.New("store data is corrupt")

// KeyValueStore persists whole namespaces of JSON documents keyed by string.
//
// LoadAll returns an empty map when the namespace does not exist. SaveAll
// replaces the namespace contents.
type KeyValueStore interface {
	LoadAll(ctx context.Context, namespace string) (map[string][]byte, error)
	SaveAll(ctx context.Context, namespace string, entries map[string][]byte) error
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store for cfg.Driver; an empty driver selects the file
// store.
func Open(ctx context.Context, cfg config.StoreConfig) (KeyValueStore, error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", DriverFile:
		return OpenFile(cfg.Path)
	case DriverLibsql:
		return OpenSQL(ctx, cfg)
	case DriverRedis:
		return OpenRedis(ctx, cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}
}

func validNamespace(namespace string) error {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return errors.New("namespace is required")
	}
	if strings.ContainsAny(namespace, `/\:`) || strings.Contains(namespace, "..") {
		return fmt.Errorf("invalid namespace: %q", namespace)
	}
	return nil
}
