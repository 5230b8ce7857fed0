package main

import (
	"context"
	"time"

	"spotledger/internal/admission"
	"spotledger/internal/core"
	"spotledger/internal/feed"
	"spotledger/internal/obs"
	"spotledger/internal/ops"
	"spotledger/internal/partition"
	"spotledger/internal/schema"
	"spotledger/internal/store"
	"spotledger/internal/store/memory"
	"spotledger/internal/store/pgstore"
	"spotledger/internal/store/walstore"
	"spotledger/internal/venue"
	"spotledger/pkg/conn"
	"spotledger/pkg/exception"

	"github.com/redis/go-redis/v9"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// app holds everything a command needs, opened from one config file.
type app struct {
	cfg     ops.Loaded
	store   store.Store
	gate    *admission.Gate
	metrics *obs.Metrics
	svc     *core.Service
	closers []func() error
}

func openApp(ctx context.Context, flags *globalFlags) (*app, error) {
	cfg, err := ops.Load(flags.config)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, gate: admission.NewGate(), metrics: obs.NewMetrics()}
	if flags.freezeFor > 0 {
		if err := a.gate.Freeze(flags.freezeReason, flags.freezeFor); err != nil {
			return nil, err
		}
		logs.Infof("store writes frozen for %s: %s", flags.freezeFor, flags.freezeReason)
	}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	paper, err := venue.NewPaper(cfg.Venue.Paper)
	if err != nil {
		a.Close()
		return nil, err
	}
	breaker := venue.NewBreaker(paper, cfg.Venue.Breaker)

	source, err := newSource(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc, err = core.New(core.Config{
		Store:           a.store,
		Locker:          a.locker(cfg.Lock),
		Gate:            a.gate,
		Venue:           breaker,
		Faults:          breaker,
		Profiles:        cfg.Profiles,
		Source:          source,
		Metrics:         a.metrics,
		Accounts:        cfg.Accounts,
		CodeVersionHash: cfg.CodeVersionHash,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	logs.Infof("config %s loaded: accounts=%d store=%s hash=%s", flags.config, len(cfg.Accounts), cfg.Store.Backend, cfg.ConfigHash)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logs.Errorf("close, err: %+v", err)
		}
	}
	a.closers = nil
}

func (a *app) locker(cfg ops.LockConfig) partition.Locker {
	if cfg.Redis.Addr == "" {
		return partition.NewLocalLocker()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.closers = append(a.closers, client.Close)
	return partition.NewRedisLocker(client, partition.RedisOption{Prefix: cfg.Redis.Prefix, TTL: cfg.Redis.TTL})
}

func openStore(ctx context.Context, cfg ops.Loaded) (store.Store, error) {
	switch cfg.Store.Backend {
	case ops.BackendMemory:
		return memory.New(), nil
	case ops.BackendWAL:
		return walstore.Open(ctx, cfg.Recorder())
	case ops.BackendPostgres:
		client, err := conn.New(cfg.Store.Postgres)
		if err != nil {
			return nil, err
		}
		s := pgstore.New(client.DB())
		if err := s.Migrate(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return pgClosing{Store: s, client: client}, nil
	default:
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "unknown store backend %q", cfg.Store.Backend)
	}
}

// pgClosing closes the pool together with the store.
type pgClosing struct {
	*pgstore.Store
	client *conn.Client
}

func (s pgClosing) Close() error {
	if err := s.Store.Close(); err != nil {
		return err
	}
	return s.client.Close()
}

func newSource(cfg ops.Loaded) (feed.Source, error) {
	router := &feed.Router{}
	for _, acct := range cfg.Accounts {
		if acct.Inputs != "" {
			router.Route(acct.Partition, feed.NewFileSource(acct.Inputs))
			continue
		}
		src, err := feed.NewSyntheticSource(cfg.Registry, acct.Seed, acct.BasePrices)
		if err != nil {
			return nil, err
		}
		router.Route(acct.Partition, src)
	}
	return router, nil
}

type partitionFlags struct {
	account string
	mode    string
}

func (f partitionFlags) key() (schema.PartitionKey, error) {
	if f.account == "" {
		return schema.PartitionKey{}, errors.Wrap(exception.ErrInvalidArgument, "--account is required")
	}
	mode, err := schema.ParseRunMode(f.mode)
	if err != nil {
		return schema.PartitionKey{}, err
	}
	return schema.PartitionKey{AccountID: f.account, Mode: mode}, nil
}

var hourLayouts = []string{time.RFC3339, "2006-01-02T15", "2006010215"}

// parseHour accepts RFC3339 or an hour stamp and returns the UTC hour containing it.
func parseHour(s string) (time.Time, error) {
	for _, layout := range hourLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return schema.TruncateHour(t).UTC(), nil
		}
	}
	return time.Time{}, errors.Wrapf(exception.ErrInvalidArgument, "invalid hour %q", s)
}

func parseOptionalHour(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return parseHour(s)
}
