package reliability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ebms/pkg/pmode"
)

// AttemptFunc performs one send attempt. A nil error acknowledges the message.
type AttemptFunc func(ctx context.Context) error

// Outcome is the final result of a delivery
type Outcome struct {
	MessageID string
	State     State
	Attempts  int
	// Err is nil for Acked, wraps ErrExhausted for Exhausted and carries
	// the failing error for Failed
	Err error
}

// Scheduler runs deliveries and their retries
type Scheduler struct {
	tracker *Tracker
	logger  *slog.Logger

	mu      sync.Mutex
	active  map[string]*delivery
	stopped bool
	wg      sync.WaitGroup
}

type delivery struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	attempt AttemptFunc
	onDone  func(Outcome)

	// guarded by Scheduler.mu
	timer    *time.Timer
	done     bool
	stopWake func() bool
	rejected error
}

// NewScheduler creates a scheduler using tracker for the retry state
func NewScheduler(tracker *Tracker, logger *slog.Logger) *Scheduler {
	if tracker == nil {
		tracker = NewTracker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tracker: tracker,
		logger:  logger,
		active:  make(map[string]*delivery),
	}
}

// Tracker returns the tracker the scheduler records into
func (s *Scheduler) Tracker() *Tracker { return s.tracker }

// Deliver sends messageID with attempt, retrying per policy. The first
// attempt runs before Deliver returns; later attempts run on timers.
// onDone is called exactly once with the final outcome, possibly before
// Deliver returns. Cancelling ctx fails the delivery.
func (s *Scheduler) Deliver(ctx context.Context, messageID string, policy pmode.Policy, attempt AttemptFunc, onDone func(Outcome)) error {
	if err := s.tracker.Begin(messageID, policy); err != nil {
		return err
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &delivery{
		id:      messageID,
		ctx:     dctx,
		cancel:  cancel,
		attempt: attempt,
		onDone:  onDone,
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		cancel()
		return ErrStopped
	}
	if _, busy := s.active[messageID]; busy {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("message %s: %w", messageID, ErrInFlight)
	}
	s.active[messageID] = d
	s.wg.Add(1)
	d.stopWake = context.AfterFunc(dctx, func() { s.cancelled(d) })
	s.mu.Unlock()

	s.run(d)
	return nil
}

// Stop cancels pending retries and waits for running attempts to finish.
// Deliveries that did not complete are reported as Failed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	pending := make([]*delivery, 0, len(s.active))
	for _, d := range s.active {
		pending = append(pending, d)
	}
	s.mu.Unlock()

	for _, d := range pending {
		d.cancel()
	}
	s.wg.Wait()
}

// InFlight returns the number of unfinished deliveries
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) run(d *delivery) {
	if err := d.ctx.Err(); err != nil {
		s.abort(d, err)
		return
	}

	n, err := s.tracker.RecordAttempt(d.id)
	if err != nil {
		// a receipt or error signal can land between fire and here
		if o, ok := s.settled(d, s.attempts(d.id)); ok {
			if o.Err == nil && o.State == Failed {
				o.Err = err
			}
			s.finish(d, o)
			return
		}
		s.finish(d, Outcome{MessageID: d.id, State: Failed, Err: err})
		return
	}

	err = d.attempt(d.ctx)
	if o, ok := s.settled(d, n); ok {
		s.finish(d, o)
		return
	}
	if err == nil {
		if _, err := s.tracker.Ack(d.id); err != nil {
			s.finish(d, Outcome{MessageID: d.id, State: Failed, Attempts: n, Err: err})
			return
		}
		s.logger.Debug("message acknowledged", slog.String("message_id", d.id), slog.Int("attempt", n))
		s.finish(d, Outcome{MessageID: d.id, State: Acked, Attempts: n})
		return
	}

	if ctxErr := d.ctx.Err(); ctxErr != nil {
		s.abort(d, errors.Join(ctxErr, err))
		return
	}

	dec, ferr := s.tracker.Fail(d.id, err)
	if ferr != nil {
		s.finish(d, Outcome{MessageID: d.id, State: Failed, Attempts: n, Err: ferr})
		return
	}

	switch dec.State {
	case Exhausted:
		s.logger.Warn("message retries exhausted",
			slog.String("message_id", d.id),
			slog.Int("attempt", n),
			slog.Any("error", err))
		s.finish(d, Outcome{
			MessageID: d.id,
			State:     Exhausted,
			Attempts:  n,
			Err:       fmt.Errorf("message %s after %d attempts: %w: %w", d.id, n, ErrExhausted, err),
		})
		return
	case Failed:
		s.logger.Warn("message failed", slog.String("message_id", d.id), slog.Int("attempt", n), slog.Any("error", err))
		s.finish(d, Outcome{MessageID: d.id, State: Failed, Attempts: n, Err: err})
		return
	}

	s.logger.Info("retrying message",
		slog.String("message_id", d.id),
		slog.Int("attempt", n),
		slog.Duration("delay", dec.Delay),
		slog.Any("error", err))

	s.mu.Lock()
	if s.stopped || d.ctx.Err() != nil {
		s.mu.Unlock()
		cause := d.ctx.Err()
		if cause == nil {
			cause = ErrStopped
		}
		s.abort(d, cause)
		return
	}
	d.timer = time.AfterFunc(dec.Delay, func() { s.fire(d) })
	s.mu.Unlock()
}

// Acknowledge acks messageID from a receipt that arrived out of band, such
// as a callback. A pending retry is cancelled and the delivery completes as
// Acked; an attempt still running completes as Acked when it returns.
func (s *Scheduler) Acknowledge(messageID string) error {
	if _, err := s.tracker.Ack(messageID); err != nil {
		return err
	}

	s.mu.Lock()
	d, ok := s.active[messageID]
	var t *time.Timer
	if ok {
		t = d.timer
		d.timer = nil
	}
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	t.Stop()
	attempts := s.attempts(messageID)
	s.logger.Debug("message acknowledged out of band", slog.String("message_id", messageID), slog.Int("attempt", attempts))
	s.finish(d, Outcome{MessageID: messageID, State: Acked, Attempts: attempts})
	return nil
}

// Reject fails messageID with cause, typically an error signal that
// arrived out of band. A pending retry is cancelled.
func (s *Scheduler) Reject(messageID string, cause error) error {
	if err := s.tracker.Abort(messageID, cause); err != nil {
		return err
	}

	s.mu.Lock()
	d, ok := s.active[messageID]
	var t *time.Timer
	if ok {
		t = d.timer
		d.timer = nil
		d.rejected = cause
	}
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	t.Stop()
	attempts := s.attempts(messageID)
	s.logger.Info("message rejected out of band", slog.String("message_id", messageID), slog.Any("error", cause))
	s.finish(d, Outcome{MessageID: messageID, State: Failed, Attempts: attempts, Err: cause})
	return nil
}

// Prune drops tracker state of deliveries that finished more than
// retention ago, and of messages tracked but never delivered by this
// scheduler, such as submitted messages, idle for longer than retention.
// It returns the removed message IDs.
func (s *Scheduler) Prune(retention time.Duration) []string {
	s.mu.Lock()
	running := make(map[string]struct{}, len(s.active))
	for id := range s.active {
		running[id] = struct{}{}
	}
	s.mu.Unlock()

	return s.tracker.Sweep(retention, func(id string) bool {
		_, ok := running[id]
		return ok
	})
}

func (s *Scheduler) attempts(messageID string) int {
	if a, ok := s.tracker.Get(messageID); ok {
		return a.Attempts
	}
	return 0
}

// settled reports an outcome decided by Acknowledge or Reject while an
// attempt was running
func (s *Scheduler) settled(d *delivery, attempts int) (Outcome, bool) {
	a, ok := s.tracker.Get(d.id)
	if !ok {
		return Outcome{}, false
	}
	switch a.State {
	case Acked:
		return Outcome{MessageID: d.id, State: Acked, Attempts: attempts}, true
	case Failed:
		s.mu.Lock()
		cause := d.rejected
		s.mu.Unlock()
		return Outcome{MessageID: d.id, State: Failed, Attempts: attempts, Err: cause}, true
	default:
		return Outcome{}, false
	}
}

// fire runs a retry unless cancellation claimed the timer first
func (s *Scheduler) fire(d *delivery) {
	s.mu.Lock()
	if d.timer == nil {
		s.mu.Unlock()
		return
	}
	d.timer = nil
	s.mu.Unlock()
	s.run(d)
}

// cancelled runs when the delivery context ends. It owns the delivery
// only if a retry timer was pending.
func (s *Scheduler) cancelled(d *delivery) {
	s.mu.Lock()
	t := d.timer
	d.timer = nil
	s.mu.Unlock()

	if t == nil {
		return
	}
	t.Stop()
	s.abort(d, d.ctx.Err())
}

func (s *Scheduler) abort(d *delivery, cause error) {
	attempts := 0
	if err := s.tracker.Abort(d.id, cause); err == nil {
		attempts = s.attempts(d.id)
	}
	s.logger.Info("message delivery aborted", slog.String("message_id", d.id), slog.Any("error", cause))
	s.finish(d, Outcome{MessageID: d.id, State: Failed, Attempts: attempts, Err: cause})
}

func (s *Scheduler) finish(d *delivery, o Outcome) {
	s.mu.Lock()
	if d.done {
		s.mu.Unlock()
		return
	}
	d.done = true
	delete(s.active, d.id)
	stopWake := d.stopWake
	s.mu.Unlock()

	if stopWake != nil {
		stopWake()
	}
	d.cancel()
	if d.onDone != nil {
		d.onDone(o)
	}
	s.wg.Done()
}
