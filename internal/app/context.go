package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"dualtext/internal/config"
	"dualtext/internal/db"
	"dualtext/internal/engine"
	"dualtext/internal/migrate"
	"dualtext/internal/stats"
)

// Context bundles what a command needs to talk to one workspace.
type Context struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Stats     stats.Service
}

// Open loads the workspace config (defaults when dualtext.yml is absent),
// opens the database, applies pending migrations and wires the engine.
func Open(ctx context.Context, workspace string, logger *log.Logger, opts ...engine.Option) (*Context, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeout: cfg.Store.BusyTimeout})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}
	eng, err := engine.New(conn, cfg, append([]engine.Option{engine.WithLogger(logger)}, opts...)...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Context{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Engine:    eng,
		Stats:     stats.New(conn, cfg.Stats.FailOnMismatch, logger),
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
