package cmd

import (
	"context"
	"fmt"

	"github.com/relaybot/relaybot/internal/config"
	"github.com/relaybot/relaybot/internal/core/store"
)

func loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the configured store for admin commands.
func openStore(ctx context.Context) (store.KeyValueStore, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	kv, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	return kv, nil
}
