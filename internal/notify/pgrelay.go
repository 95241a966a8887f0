package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const maxBackoff = 30 * time.Second

// Publisher receives snapshots for fan-out. *Hub implements it.
type Publisher interface {
	Publish(Snapshot)
}

// PGRelay listens on the Postgres change channel and republishes every
// notified uid's current snapshot locally. It makes commits from other
// processes (a second API replica, the admin CLI) visible to this process's
// subscribers.
type PGRelay struct {
	dsn     string
	loader  Loader
	out     Publisher
	logger  zerolog.Logger
	backoff time.Duration
}

func NewPGRelay(dsn string, loader Loader, out Publisher, logger zerolog.Logger) *PGRelay {
	return &PGRelay{
		dsn:     dsn,
		loader:  loader,
		out:     out,
		logger:  logger,
		backoff: time.Second,
	}
}

// Run blocks until ctx ends, reconnecting with capped backoff on failure.
func (r *PGRelay) Run(ctx context.Context) {
	var delay time.Duration
	for {
		listening, err := r.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		delay = r.nextDelay(delay, listening)
		r.logger.Warn().Err(err).Dur("retry_in", delay).Msg("Change relay disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// nextDelay doubles the wait after failed attempts, capped at maxBackoff, and
// starts over once a connection reached LISTEN.
func (r *PGRelay) nextDelay(previous time.Duration, listening bool) time.Duration {
	if listening || previous <= 0 {
		return r.backoff
	}
	if next := previous * 2; next < maxBackoff {
		return next
	}
	return maxBackoff
}

// listen reports whether it got as far as LISTEN before failing.
func (r *PGRelay) listen(ctx context.Context) (bool, error) {
	conn, err := pgx.Connect(ctx, r.dsn)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{Channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	r.logger.Info().Str("channel", Channel).Msg("Change relay listening")

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		snap, err := r.loader.Snapshot(ctx, n.Payload)
		if err != nil {
			r.logger.Warn().Err(err).Str("uid", n.Payload).Msg("Could not load notified snapshot")
			continue
		}
		r.out.Publish(snap)
	}
}
