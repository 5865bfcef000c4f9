// Package broadcast fans a payload out to every known user, one send at a
// time, isolating per-recipient failures.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/uzbekfilmtv/kinobot/internal/models"
)

// ErrInProgress is returned when a broadcast is requested while another run
// is still executing.
var ErrInProgress = errors.New("broadcast already in progress")

// Payload is what gets delivered to every recipient. When MessageID is set
// the original message is copied from FromChatID; otherwise Text is sent as
// a plain notification.
type Payload struct {
	Text       string
	FromChatID int64
	MessageID  int
}

// Transport is the message-delivery seam the dispatcher sends through.
type Transport interface {
	Notify(ctx context.Context, userID int64, text string) error
	CopyMessage(ctx context.Context, userID, fromChatID int64, messageID int) error
}

// Ledger enumerates the recipient set.
type Ledger interface {
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

// Recorder persists the aggregate outcome of a run.
type Recorder interface {
	Record(ctx context.Context, report models.BroadcastReport) error
}

type Dispatcher struct {
	transport Transport
	ledger    Ledger
	recorder  Recorder
	limiter   *rate.Limiter
	log       *slog.Logger
	busy      atomic.Bool
}

// New builds a dispatcher pacing successive sends at least interval apart.
func New(transport Transport, ledger Ledger, recorder Recorder, interval time.Duration, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		ledger:    ledger,
		recorder:  recorder,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		log:       log,
	}
}

// Broadcast sends the payload to a snapshot of the user set taken at
// invocation time. Users signing up mid-run are not included. One failing
// recipient never aborts the run; the run completes and returns aggregate
// counts. Only one run may execute at a time.
func (d *Dispatcher) Broadcast(ctx context.Context, payload Payload) (models.BroadcastReport, error) {
	if !d.busy.CompareAndSwap(false, true) {
		return models.BroadcastReport{}, ErrInProgress
	}
	defer d.busy.Store(false)

	ids, err := d.ledger.ListTelegramIDs(ctx)
	if err != nil {
		return models.BroadcastReport{}, fmt.Errorf("snapshot recipients: %w", err)
	}

	report := models.BroadcastReport{
		RunID: uuid.NewString(),
		Total: len(ids),
	}
	start := time.Now()
	d.log.Info("broadcast started", "run", report.RunID, "total", report.Total)

	for _, id := range ids {
		if err := d.limiter.Wait(ctx); err != nil {
			// Only process shutdown gets here; the remainder of the
			// snapshot was never attempted.
			report.Failed = report.Total - report.Succeeded
			d.log.Warn("broadcast interrupted", "run", report.RunID, "err", err)
			break
		}
		if err := d.send(ctx, id, payload); err != nil {
			report.Failed++
			d.log.Warn("broadcast send failed", "run", report.RunID, "user", id, "err", err)
			continue
		}
		report.Succeeded++
	}

	if err := d.recorder.Record(ctx, report); err != nil {
		// The run itself succeeded; a lost audit row is only logged.
		d.log.Error("record broadcast run", "run", report.RunID, "err", err)
	}

	d.log.Info("broadcast finished",
		"run", report.RunID,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"total", report.Total,
		"dur", time.Since(start))
	return report, nil
}

func (d *Dispatcher) send(ctx context.Context, userID int64, payload Payload) error {
	if payload.MessageID != 0 {
		return d.transport.CopyMessage(ctx, userID, payload.FromChatID, payload.MessageID)
	}
	return d.transport.Notify(ctx, userID, payload.Text)
}
