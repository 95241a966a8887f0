package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"metalcalc_backend/internal/notify"
	"metalcalc_backend/pkg/metrics"
	"metalcalc_backend/pkg/subscription"
)

// StreamController serves account snapshots as server-sent events.
type StreamController struct {
	hub       *notify.Hub
	evaluator subscription.Evaluator
	heartbeat time.Duration
	logger    zerolog.Logger
}

func NewStreamController(hub *notify.Hub, evaluator subscription.Evaluator, heartbeat time.Duration, logger zerolog.Logger) *StreamController {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &StreamController{hub: hub, evaluator: evaluator, heartbeat: heartbeat, logger: logger}
}

type streamEvent struct {
	notify.Snapshot
	Entitlement subscription.Entitlement `json:"entitlement"`
}

// Stream follows the caller's own records.
func (sc *StreamController) Stream(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return respondError(c, err)
	}
	return sc.serve(c, account.UID)
}

func (sc *StreamController) serve(c *fiber.Ctx, uid string) error {
	// the stream outlives the handler, so it gets its own context
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := sc.hub.Subscribe(ctx, uid)
	if err != nil {
		cancel()
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		defer sub.Close()
		metrics.IncStreamSubscribers()
		defer metrics.DecStreamSubscribers()

		if err := sc.pump(ctx, w, sub); err != nil {
			sc.logger.Debug().Err(err).Str("uid", uid).Msg("Stream closed")
		}
	}))
	return nil
}

type snapshotSource interface {
	Next(ctx context.Context) (notify.Snapshot, error)
}

// pump writes snapshots until the client goes away or ctx ends, sending a
// comment line when nothing changed for a heartbeat interval.
func (sc *StreamController) pump(ctx context.Context, w *bufio.Writer, sub snapshotSource) error {
	for {
		waitCtx, cancel := context.WithTimeout(ctx, sc.heartbeat)
		snap, err := sub.Next(waitCtx)
		cancel()

		switch {
		case err == nil:
			if err := sc.writeSnapshot(w, snap); err != nil {
				return err
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
		default:
			return err
		}

		// a flush error means the client disconnected
		if err := w.Flush(); err != nil {
			return err
		}
	}
}

func (sc *StreamController) writeSnapshot(w *bufio.Writer, snap notify.Snapshot) error {
	data, err := json.Marshal(streamEvent{
		Snapshot:    snap,
		Entitlement: sc.evaluator.Evaluate(snap.Account),
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: snapshot\ndata: %s\n\n", snap.Revision, data)
	return err
}
