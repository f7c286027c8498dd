package session

import (
	"context"
	"time"

	"github.com/inksuite/signet/internal/config"
	"go.uber.org/fx"
)

func registerSweeper(lc fx.Lifecycle, cfg config.Config, store *Store) {
	interval := time.Duration(cfg.SessionSweepSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						store.Sweep(ctx)
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

var Module = fx.Module("session.store",
	fx.Provide(
		NewRedis,
		NewStore,
	),
	fx.Invoke(registerSweeper),
)
