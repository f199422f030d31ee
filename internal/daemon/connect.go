package daemon

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/satellited/internal/actions"
	"git.home.luguber.info/inful/satellited/internal/config"
	ferrors "git.home.luguber.info/inful/satellited/internal/foundation/errors"
	"git.home.luguber.info/inful/satellited/internal/logfields"
	"git.home.luguber.info/inful/satellited/internal/statestore"
	"git.home.luguber.info/inful/satellited/internal/timers"
)

// Connect opens the NATS connection, the state bucket and the timer database
// described by cfg. The returned cleanup closes all of them.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Deps, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "connect to NATS").
			WithContext("url", cfg.NATS.URL).Fatal().Build()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "create JetStream context").Fatal().Build()
	}
	kv, err := statestore.OpenKVBucket(ctx, js, cfg.NATS.KVBucket)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}

	timerStore, err := timers.NewSQLiteStore(cfg.Storage.TimersDB)
	if err != nil {
		nc.Close()
		return nil, nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "open timer database").
			WithContext("path", cfg.Storage.TimersDB).Fatal().Build()
	}

	invoker := actions.NewNATSInvoker(nc, cfg.NATS.SubjectPrefix, logger)
	invoker.RequestTimeout = cfg.NATS.RequestTimeout

	deps := &Deps{
		States: statestore.NewNATSKVStore(kv,
			statestore.WithRetryPolicy(cfg.Menu.WritePolicy()),
			statestore.WithLogger(logger)),
		Invoker:    invoker,
		TimerStore: timerStore,
		Conn:       nc,
		Logger:     logger,
	}
	cleanup := func() {
		if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			logger.Warn("NATS drain failed", logfields.Error(err))
		}
		if err := timerStore.Close(); err != nil {
			logger.Warn("Closing timer database failed", logfields.Error(err))
		}
	}
	return deps, cleanup, nil
}
