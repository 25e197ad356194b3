// Package shutdown provides a priority-ordered registry of drain handlers,
// generalizing the inline signal handling the teacher wires directly into
// cmd/indexer/main.go plus the Start/Stop lifecycle of its
// MaintenanceCoordinator into a reusable sequencer.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/chainindexor/blockindexer/internal/logger"
)

// Handler is a named, priority-ordered drain function. Lower Priority values
// run first. ShutdownFn receives a context bounded by the sequencer's
// per-handler timeout (if configured) and should return promptly once its
// resource has drained.
type Handler struct {
	Name       string
	Priority   int
	ShutdownFn func(ctx context.Context) error
}

// Canonical priorities per the graceful shutdown sequencer: lower runs first.
const (
	PriorityAPIServer   = 1
	PrioritySyncLoop    = 5
	PriorityDatabase    = 10
	syncLoopDrainPeriod = time.Second
)

// Sequencer runs registered handlers, in priority order, exactly once per
// process lifetime, ignoring duplicate signals received while a shutdown is
// already in progress.
type Sequencer struct {
	mu       sync.Mutex
	handlers []Handler

	log       *logger.Logger
	timeout   time.Duration
	inflight  bool
	done      chan struct{}
	sigCh     chan os.Signal
	succeeded int
	failed    int
}

// New builds a Sequencer. timeout bounds the context passed to each handler;
// zero means no per-handler deadline.
func New(log *logger.Logger, timeout time.Duration) *Sequencer {
	return &Sequencer{
		log:     log.WithComponent("shutdown"),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// Register adds a handler to the sequencer. Safe to call concurrently, but
// must complete before Listen's signal fires to be honored.
func (s *Sequencer) Register(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Listen installs a signal handler for SIGINT, SIGTERM, and SIGUSR2, and
// triggers Shutdown on the first one received. It returns a context that is
// canceled as soon as a signal arrives, suitable for threading into the
// sync loop's isShuttingDown checks.
func (s *Sequencer) Listen(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR2)

	go func() {
		sig, ok := <-s.sigCh
		if !ok {
			return
		}
		s.log.Infow("received shutdown signal", "signal", sig.String())
		cancel()
		s.Shutdown(context.Background())
	}()

	return ctx
}

// Shutdown runs every registered handler in ascending priority order,
// serially, timing each and continuing past individual failures. Duplicate
// calls while a shutdown is already running (or has already completed) are
// no-ops.
func (s *Sequencer) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.inflight {
		s.mu.Unlock()
		return
	}
	s.inflight = true
	handlers := make([]Handler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool { return handlers[i].Priority < handlers[j].Priority })

	shutdownsTotal.Inc()
	start := time.Now()

	var succeeded, failed int
	for _, h := range handlers {
		hctx := ctx
		var cancel context.CancelFunc
		if s.timeout > 0 {
			hctx, cancel = context.WithTimeout(ctx, s.timeout)
		}

		handlerStart := time.Now()
		if h.Priority == PrioritySyncLoop {
			time.Sleep(syncLoopDrainPeriod)
		}
		err := h.ShutdownFn(hctx)
		if cancel != nil {
			cancel()
		}
		elapsed := time.Since(handlerStart)
		handlerDuration.WithLabelValues(h.Name).Observe(elapsed.Seconds())

		if err != nil {
			failed++
			handlerFailuresTotal.WithLabelValues(h.Name).Inc()
			s.log.Errorw("shutdown handler failed", "handler", h.Name, "priority", h.Priority, "duration", elapsed, "error", err)
			continue
		}
		succeeded++
		s.log.Infow("shutdown handler completed", "handler", h.Name, "priority", h.Priority, "duration", elapsed)
	}

	s.mu.Lock()
	s.succeeded, s.failed = succeeded, failed
	s.mu.Unlock()

	shutdownDuration.Observe(time.Since(start).Seconds())
	s.log.Infow("shutdown sequence complete", "succeeded", succeeded, "failed", failed, "duration", time.Since(start))
	close(s.done)
}

// Done returns a channel closed once Shutdown has run to completion.
func (s *Sequencer) Done() <-chan struct{} { return s.done }

// Results reports the handler success/failure counts from the last completed
// Shutdown call.
func (s *Sequencer) Results() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded, s.failed
}

// Stop cancels signal delivery, used by tests to release the installed
// os/signal hook without waiting on an actual OS signal.
func (s *Sequencer) Stop() {
	if s.sigCh != nil {
		signal.Stop(s.sigCh)
		close(s.sigCh)
	}
}
