// Package app wires configuration into the store, queue and service shared by
// the API server and the worker.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/MKhalifi/employee-checkin/internal/attendance"
	"github.com/MKhalifi/employee-checkin/internal/config"
	"github.com/MKhalifi/employee-checkin/internal/queue"
	"github.com/MKhalifi/employee-checkin/internal/store"
	"github.com/MKhalifi/employee-checkin/internal/store/postgres"
	"github.com/MKhalifi/employee-checkin/internal/store/sqlite"
)

// Deps are the long-lived collaborators built from configuration.
type Deps struct {
	Store   attendance.Store
	Service *attendance.Service
	Redis   *store.Redis
	Queue   queue.Queue

	closers []func() error
}

// Build opens the configured store (running migrations), Redis and queue.
func Build(ctx context.Context, cfg config.App) (*Deps, error) {
	d := &Deps{}

	st, err := openStore(ctx, cfg, d)
	if err != nil {
		return nil, err
	}
	d.Store = st

	loc, err := cfg.Location()
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.Service = attendance.NewService(st, attendance.Options{
		Location:   loc,
		MiddayHour: cfg.MiddayHour,
		WindowTTL:  cfg.WindowTTL,
		Timeout:    cfg.StoreTimeout,
	})

	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		d.Redis = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		d.closers = append(d.closers, d.Redis.Close)
		if !d.Redis.Healthy(ctx) {
			log.Warn().Str("addr", cfg.RedisAddr).Msg("Redis not reachable at startup")
		}
	}

	if cfg.QueueBackend == "redis" {
		d.Queue = queue.NewRedisQueue(d.Redis.Client, cfg.QueueKey)
	} else {
		d.Queue = queue.NewInMemory(256)
	}
	return d, nil
}

func openStore(ctx context.Context, cfg config.App, d *Deps) (attendance.Store, error) {
	switch cfg.StoreBackend {
	case "sqlite":
		repo, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, repo.Close)
		log.Info().Str("path", cfg.SQLitePath).Msg("Using sqlite store")
		return repo, nil
	case "postgres":
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db.Close)
		repo := postgres.NewRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			_ = d.Close()
			return nil, err
		}
		log.Info().Msg("Using postgres store")
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Close releases everything Build opened, newest first.
func (d *Deps) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}
