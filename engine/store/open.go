package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Config selects and configures a vector store backend.
type Config struct {
	// Backend is one of memory, postgres, qdrant, badger.
	Backend     string
	PostgresDSN string
	QdrantAddr  string
	Collection  string
	BadgerDir   string
	Dims        int
}

// Open builds the configured backend, creating schema or collections
// as needed. The returned close function releases the backend's
// resources.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (VectorStore, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemory(), func() error { return nil }, nil
	case "postgres":
		pg, err := NewPostgres(ctx, cfg.PostgresDSN, cfg.Dims)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "qdrant":
		qd, err := NewQdrant(cfg.QdrantAddr, cfg.Collection)
		if err != nil {
			return nil, nil, err
		}
		if err := qd.EnsureCollection(ctx, cfg.Dims); err != nil {
			_ = qd.Close()
			return nil, nil, err
		}
		return qd, qd.Close, nil
	case "badger":
		bd, err := NewBadger(cfg.BadgerDir, false, logger)
		if err != nil {
			return nil, nil, err
		}
		return bd, bd.Close, nil
	default:
		return nil, nil, fmt.Errorf("store: unknown backend %q", cfg.Backend)
	}
}
