// Package watch turns the record store into a stream of "document added"
// events. SQLite has no change notifications, so the dispatcher polls for rows
// whose persisted state says work remains: pending incidents with an owning
// signup, and paid signups not yet through enrichment. Rows that cannot
// progress are excluded at the query level, so they never occupy the poll
// window. The in-memory claim set only guards in-flight runs; a claim is
// released once the run has settled the row's state, and a row still eligible
// after a crash is re-delivered on the next start (at-least-once).
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/carcrashlawyerai/backend/internal/report"
	"github.com/carcrashlawyerai/backend/internal/store"
)

const pollBatchSize = 50

// Processor handles one added document. Implemented by report.Pipeline.
type Processor interface {
	ProcessIncident(ctx context.Context, docID string) (*report.Result, error)
	ProcessSignup(ctx context.Context, docID string) error
}

// Dispatcher polls for eligible signups and incidents and runs each document's
// pipeline in its own goroutine. Distinct documents are never serialized
// against each other.
type Dispatcher struct {
	mu         sync.Mutex
	signups    *store.SignupStore
	incidents  *store.IncidentStore
	pipeline   Processor
	interval   time.Duration
	logger     *slog.Logger
	dispatched map[string]struct{}
	wg         sync.WaitGroup
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewDispatcher(signups *store.SignupStore, incidents *store.IncidentStore, pipeline Processor, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{
		signups:    signups,
		incidents:  incidents,
		pipeline:   pipeline,
		interval:   interval,
		logger:     logger,
		dispatched: make(map[string]struct{}),
	}
}

// Start begins the poll loop.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.tick(ctx)
			}
		}
	}()
}

// Stop halts the poll loop and waits for in-flight pipelines to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	done := d.done
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	d.wg.Wait()
}

func (d *Dispatcher) tick(ctx context.Context) {
	incidents, err := d.incidents.ListPending(pollBatchSize)
	if err != nil {
		d.logger.Error("dispatcher: list pending incidents", "error", err)
	} else {
		for _, inc := range incidents {
			d.dispatch(ctx, "incident:"+inc.ID, inc.ID, d.runIncident)
		}
	}

	signups, err := d.signups.ListEnrichable(pollBatchSize)
	if err != nil {
		d.logger.Error("dispatcher: list enrichable signups", "error", err)
		return
	}
	for _, sg := range signups {
		d.dispatch(ctx, "signup:"+sg.ID, sg.ID, d.runSignup)
	}
}

// dispatch claims the document and runs the handler in its own goroutine. A
// held claim means a run is in flight (or parked); the document is skipped
// until the claim is released. The handler returns true to keep the claim.
func (d *Dispatcher) dispatch(ctx context.Context, claim, docID string, run func(context.Context, string) bool) {
	d.mu.Lock()
	if _, held := d.dispatched[claim]; held {
		d.mu.Unlock()
		return
	}
	d.dispatched[claim] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if run(ctx, docID) {
			return
		}
		d.mu.Lock()
		delete(d.dispatched, claim)
		d.mu.Unlock()
	}()
}

// runIncident always releases its claim: every outcome either settles the row
// (completed or failed) or leaves it excluded from the poll until its signup
// arrives, and a row left eligible by a bookkeeping error should be retried.
func (d *Dispatcher) runIncident(ctx context.Context, docID string) bool {
	if _, err := d.pipeline.ProcessIncident(ctx, docID); err != nil {
		if errors.Is(err, report.ErrNotFound) {
			d.logger.Warn("dispatcher: incident references missing record", "doc_id", docID, "error", err)
			return false
		}
		// Ledger and status bookkeeping already happened inside the pipeline.
		d.logger.Warn("dispatcher: incident pipeline failed", "doc_id", docID, "error", err)
	}
	return false
}

// runSignup parks the claim when the registry lookup has no credentials; the
// row stays eligible but nothing about it can change until a restart supplies
// a key, so one warning per process is enough.
func (d *Dispatcher) runSignup(ctx context.Context, docID string) bool {
	if err := d.pipeline.ProcessSignup(ctx, docID); err != nil {
		if errors.Is(err, report.ErrLookupUnavailable) {
			d.logger.Warn("dispatcher: signup enrichment unavailable", "doc_id", docID, "error", err)
			return true
		}
		d.logger.Warn("dispatcher: signup pipeline failed", "doc_id", docID, "error", err)
	}
	return false
}
