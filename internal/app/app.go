// Package app wires the application together: profile database, sync target,
// key store and engine, driven by the runtime configuration.
package app

import (
	"context"
	"database/sql"

	"github.com/personalizedrefrigerator/notesync/internal/codec"
	"github.com/personalizedrefrigerator/notesync/internal/config"
	"github.com/personalizedrefrigerator/notesync/internal/cryptox"
	"github.com/personalizedrefrigerator/notesync/internal/keystore"
	"github.com/personalizedrefrigerator/notesync/internal/logging"
	"github.com/personalizedrefrigerator/notesync/internal/remote"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/keys"
	"github.com/personalizedrefrigerator/notesync/internal/repositories/settings"
	"github.com/personalizedrefrigerator/notesync/internal/services"
	"github.com/personalizedrefrigerator/notesync/internal/sync"
)

// App is the assembled client.
type App struct {
	DB     *sql.DB
	Store  remote.Store
	Items  *services.ItemService
	Keys   *keystore.Store
	Engine *sync.Engine
	Logger logging.Logger

	cfg *config.Config
}

// NewApp opens the profile database, builds the configured sync target and
// assembles the services around them.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	db, err := InitDatabase(ctx, cfg.DatabaseFile)
	if err != nil {
		return nil, err
	}

	store, err := BuildStore(ctx, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	reg := cryptox.DefaultRegistry()
	ks := keystore.New(keys.NewSQLiteRepository(db), settings.NewSQLiteRepository(db), reg, logger)

	engine := sync.NewEngine(db, store, codec.New(reg), ks, logger, sync.Options{
		MaxParallel: cfg.MaxParallel,
		MaxAttempts: cfg.MaxAttempts,
		RetryBase:   cfg.RetryBase,
		OpTimeout:   cfg.OpTimeout,
	})

	return &App{
		DB:     db,
		Store:  store,
		Items:  services.NewItemService(db, logger),
		Keys:   ks,
		Engine: engine,
		Logger: logger,
		cfg:    cfg,
	}, nil
}

// Close releases the profile database and, when the sync target holds its
// own connections, those too.
func (a *App) Close() error {
	if c, ok := a.Store.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return a.DB.Close()
}
