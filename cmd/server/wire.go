package main

import (
	"context"
	"fmt"

	"github.com/Rrens/flowbot/internal/action"
	"github.com/Rrens/flowbot/internal/api/handler"
	"github.com/Rrens/flowbot/internal/config"
	"github.com/Rrens/flowbot/internal/domain"
	"github.com/Rrens/flowbot/internal/executor"
	"github.com/Rrens/flowbot/internal/flow"
	"github.com/Rrens/flowbot/internal/repository/file"
	"github.com/Rrens/flowbot/internal/repository/memory"
	"github.com/Rrens/flowbot/internal/repository/mongo"
	"github.com/Rrens/flowbot/internal/repository/postgres"
	"github.com/Rrens/flowbot/internal/repository/sqlstore"
	"github.com/rs/zerolog/log"
)

// sessionBackend is everything the server needs from a session store
type sessionBackend interface {
	domain.SessionStore
	domain.SessionQuerier
	domain.SessionSweeper
}

// backends are the storage collaborators selected by config
type backends struct {
	sessions   sessionBackend
	graphs     domain.GraphSource
	scheduling domain.SchedulingRepository
	leads      domain.LeadRepository
	ready      map[string]handler.Pinger
	closers    []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

type memoryPinger struct{}

func (memoryPinger) Ping(context.Context) error { return nil }

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{ready: map[string]handler.Pinger{}}

	var (
		db       *postgres.DB
		sqlStore *sqlstore.Store
	)
	switch cfg.Storage.Driver {
	case "postgres", "":
		pg, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		db = pg
		b.closers = append(b.closers, db.Close)
		b.ready["postgres"] = db
		b.sessions = postgres.NewSessionRepository(db.Pool)
		sched := postgres.NewSchedulingRepository(db.Pool)
		b.scheduling, b.leads = sched, sched
	case "sqlite", "mysql":
		store, err := sqlstore.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return nil, err
		}
		sqlStore = store
		b.closers = append(b.closers, func() { store.Close() })
		b.ready[cfg.Storage.Driver] = store
		b.sessions = store
	case "memory":
		b.sessions = memory.NewSessionStore()
		b.ready["memory"] = memoryPinger{}
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedStore, cfg.Storage.Driver)
	}

	if b.scheduling == nil {
		// Appointments and leads are only persisted by the postgres driver.
		log.Warn().Str("driver", cfg.Storage.Driver).Msg("Scheduling and leads kept in memory")
		sched := memory.NewScheduling()
		b.scheduling, b.leads = sched, sched
	}

	switch cfg.Graph.Source {
	case "postgres", "":
		if db == nil {
			b.close()
			return nil, fmt.Errorf("graph source postgres requires storage driver postgres")
		}
		b.graphs = postgres.NewGraphRepository(db.Pool)
	case "sql":
		if sqlStore == nil {
			b.close()
			return nil, fmt.Errorf("graph source sql requires storage driver sqlite or mysql")
		}
		b.graphs = sqlStore
	case "mongo":
		client, src, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() { client.Disconnect(context.Background()) })
		b.graphs = src
	case "file":
		b.graphs = file.NewGraphSource(cfg.Graph.Dir)
	default:
		b.close()
		return nil, fmt.Errorf("unknown graph source %q", cfg.Graph.Source)
	}

	return b, nil
}

func newEngine(cfg *config.Config, b *backends, graphs domain.GraphSource, opts ...flow.Option) *flow.Engine {
	m := cfg.Engine.Messages
	registry := action.NewDefaultRegistry(b.scheduling, b.leads, action.WithLocation(cfg.Engine.Location()))
	exec := executor.New(registry, executor.WithMessages(executor.Messages{
		Apology:     m.Apology,
		UnknownNode: m.UnknownNode,
	}))
	return flow.NewEngine(b.sessions, graphs, exec, flow.Config{
		MaxSteps:    cfg.Engine.MaxSteps,
		TurnTimeout: cfg.Engine.TurnTimeout,
		LockTimeout: cfg.Engine.LockTimeout,
		Messages: flow.Messages{
			Welcome:      m.Welcome,
			Fallback:     m.Fallback,
			Greeting:     m.Greeting,
			Apology:      m.Apology,
			CycleApology: m.CycleApology,
			StillWorking: m.StillWorking,
		},
	}, opts...)
}
