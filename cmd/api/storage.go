package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	domain "github.com/bryanwahyu/automaton-pipeline/internal/domain/analyses"
	"github.com/bryanwahyu/automaton-pipeline/internal/domain/scanerrors"
	"github.com/bryanwahyu/automaton-pipeline/internal/config"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/db/memory"
	mysqlp "github.com/bryanwahyu/automaton-pipeline/internal/infra/db/mysql"
	pgp "github.com/bryanwahyu/automaton-pipeline/internal/infra/db/postgres"
	sqlitep "github.com/bryanwahyu/automaton-pipeline/internal/infra/db/sqlite"
	"github.com/bryanwahyu/automaton-pipeline/internal/infra/plans"
)

// storage is the persistence set for the configured driver.
type storage struct {
	analyses domain.Repository
	errors   scanerrors.Repository
	subs     plans.SubscriptionLookup
	db       *sql.DB // nil for the memory driver
}

func (s *storage) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	d := cfg.Database
	switch d.Driver {
	case config.DriverMySQL:
		db, err := mysqlp.Connect(ctx, mysqlp.DSN(mysqlp.Options{
			Host: d.Host, Port: d.Port, User: d.User, Password: d.Password, Name: d.Name,
		}))
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		if d.AutoMigrate {
			if err := mysqlp.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &storage{
			analyses: mysqlp.NewAnalysisRepository(db),
			errors:   mysqlp.NewScanErrorRepository(db),
			subs:     mysqlp.NewSubscriptionRepository(db),
			db:       db,
		}, nil

	case config.DriverPostgres:
		db, err := pgp.Connect(ctx, pgp.DSN(pgp.Options{
			Host: d.Host, Port: d.Port, User: d.User, Password: d.Password, Name: d.Name, SSLMode: d.SSLMode,
		}))
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if d.AutoMigrate {
			if err := pgp.Migrate(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &storage{
			analyses: pgp.NewAnalysisRepository(db),
			errors:   pgp.NewScanErrorRepository(db),
			subs:     pgp.NewSubscriptionRepository(db),
			db:       db,
		}, nil

	case config.DriverSQLite:
		db, err := sqlitep.Open(ctx, d.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		return &storage{
			analyses: sqlitep.NewAnalysisRepository(db),
			errors:   sqlitep.NewScanErrorRepository(db),
			subs:     sqlitep.NewSubscriptionRepository(db),
			db:       db,
		}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory storage, analyses are lost on restart")
		return &storage{
			analyses: memory.NewAnalysisRepo(),
			errors:   memory.NewScanErrorRepo(),
			subs:     plans.StaticSubscriptions(cfg.Plans.Subscriptions),
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", d.Driver)
}
