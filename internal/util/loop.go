package util

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Loop runs fn until ctx is done, restarting it after cooldown whenever it
// returns an error or panics. No fault inside fn is fatal to the process;
// only cancellation stops the loop permanently.
func Loop(ctx context.Context, log zerolog.Logger, name string, cooldown time.Duration, fn func(context.Context) error) {
	if cooldown <= 0 {
		cooldown = time.Second
	}
	for {
		err := guard(ctx, fn)
		if ctx.Err() != nil {
			log.Info().Str("loop", name).Msg("loop stopped")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("loop", name).Dur("cooldown", cooldown).Msg("loop faulted, resuming")
		}
		select {
		case <-time.After(cooldown):
		case <-ctx.Done():
			log.Info().Str("loop", name).Msg("loop stopped")
			return
		}
	}
}

func guard(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
