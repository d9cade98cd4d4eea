package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/carcrashlawyerai/backend/internal/store"
)

// SweepMailer sends the sweep's reminder and escalation mail.
type SweepMailer interface {
	SendPaymentReminder(ctx context.Context, to, fullName string) error
	SendEscalation(ctx context.Context, internalAddr, signupID, signupEmail string, age time.Duration) error
}

// Cleaner removes expired backup copies.
type Cleaner interface {
	Configured() bool
	Cleanup(ctx context.Context) error
}

// SweeperConfig holds the sweep cadence and thresholds.
type SweeperConfig struct {
	Interval      time.Duration // how often the sweep runs
	RemindAfter   time.Duration // pending payment age before the one-time reminder
	EscalateAfter time.Duration // pending payment age before internal escalation
	InternalEmail string
}

// Sweeper periodically scans pending-payment signups: a one-time reminder
// past the short threshold and a one-time internal escalation past the long
// one, each guarded by its own marker field. It also runs the daily backup
// retention cleanup.
type Sweeper struct {
	mu          sync.Mutex
	cfg         SweeperConfig
	signups     *store.SignupStore
	mailer      SweepMailer
	cleaner     Cleaner
	logger      *slog.Logger
	lastCleanup time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewSweeper(cfg SweeperConfig, signups *store.SignupStore, mailer SweepMailer, cleaner Cleaner, logger *slog.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.RemindAfter <= 0 {
		cfg.RemindAfter = 2 * time.Hour
	}
	if cfg.EscalateAfter <= 0 {
		cfg.EscalateAfter = 30 * 24 * time.Hour
	}
	return &Sweeper{
		cfg:     cfg,
		signups: signups,
		mailer:  mailer,
		cleaner: cleaner,
		logger:  logger,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop gracefully stops the sweeper.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Sweep runs one pass. Exported so an operator endpoint or test can trigger
// it directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	s.sendReminders(ctx, now)
	s.sendEscalations(ctx, now)
	s.maybeCleanup(ctx, now)
}

func (s *Sweeper) sendReminders(ctx context.Context, now time.Time) {
	pending, err := s.signups.ListPendingReminder(now.Add(-s.cfg.RemindAfter))
	if err != nil {
		s.logger.Error("sweep: list pending reminders", "error", err)
		return
	}

	for _, sg := range pending {
		if sg.Email == "" {
			continue
		}
		if err := s.mailer.SendPaymentReminder(ctx, sg.Email, sg.FullName); err != nil {
			s.logger.Warn("sweep: send payment reminder", "doc_id", sg.ID, "error", err)
			continue
		}
		// Mark only after a successful send so a failed send retries on the
		// next pass; the marker makes the reminder at-most-once thereafter.
		if err := s.signups.MarkReminderSent(sg.ID); err != nil {
			s.logger.Error("sweep: mark reminder sent", "doc_id", sg.ID, "error", err)
			continue
		}
		s.logger.Info("payment reminder sent", "doc_id", sg.ID)
	}
}

func (s *Sweeper) sendEscalations(ctx context.Context, now time.Time) {
	stale, err := s.signups.ListPendingEscalation(now.Add(-s.cfg.EscalateAfter))
	if err != nil {
		s.logger.Error("sweep: list pending escalations", "error", err)
		return
	}

	for _, sg := range stale {
		age := now.Sub(sg.CreatedAt)
		if err := s.mailer.SendEscalation(ctx, s.cfg.InternalEmail, sg.ID, sg.Email, age); err != nil {
			s.logger.Warn("sweep: send escalation", "doc_id", sg.ID, "error", err)
			continue
		}
		if err := s.signups.MarkEscalated(sg.ID); err != nil {
			s.logger.Error("sweep: mark escalated", "doc_id", sg.ID, "error", err)
			continue
		}
		s.logger.Info("stale signup escalated", "doc_id", sg.ID, "age", age)
	}
}

func (s *Sweeper) maybeCleanup(ctx context.Context, now time.Time) {
	if s.cleaner == nil || !s.cleaner.Configured() {
		return
	}
	if now.Sub(s.lastCleanup) < 24*time.Hour {
		return
	}
	s.lastCleanup = now

	if err := s.cleaner.Cleanup(ctx); err != nil {
		s.logger.Error("sweep: backup cleanup", "error", err)
	}
}
