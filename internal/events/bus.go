package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sakashimaa/order-backend/internal/domain"
	"go.uber.org/zap"
)

type Handler func(event domain.StatusChangedEvent)

type Config struct {
	// Throttle is the per-order delivery window: at most one event passes
	// per window, plus the trailing event when the window closes.
	Throttle time.Duration
	// IdleTTL is how long an order's worker lingers without traffic before
	// it is retired.
	IdleTTL time.Duration
}

const workerBuffer = 64

// Bus fans status-changed events out to subscribers with per-order version
// dedup and leading+trailing throttling. Each active order id gets its own
// worker goroutine, so one slow or failing order never blocks another.
type Bus struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	workers  map[string]chan domain.StatusChangedEvent
	handlers []Handler
	closed   bool
	wg       sync.WaitGroup

	received     atomic.Int64
	dedupDropped atomic.Int64
	emitted      atomic.Int64
}

func NewBus(logger *zap.Logger, cfg Config) *Bus {
	if cfg.Throttle <= 0 {
		cfg.Throttle = 300 * time.Millisecond
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = time.Minute
	}

	return &Bus{
		cfg:     cfg,
		logger:  logger,
		workers: make(map[string]chan domain.StatusChangedEvent),
	}
}

// Subscribe registers a consumer of the deduplicated, throttled stream.
func (b *Bus) Subscribe(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = append(b.handlers, handler)
}

// Publish feeds an event into the pipeline. It never blocks: if an order's
// worker is backlogged the event is dropped with a warning.
func (b *Bus) Publish(event domain.StatusChangedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.received.Add(1)

	ch, ok := b.workers[event.OrderID]
	if !ok {
		ch = make(chan domain.StatusChangedEvent, workerBuffer)
		b.workers[event.OrderID] = ch
		b.wg.Add(1)
		go b.runOrderStream(event.OrderID, ch)
	}

	select {
	case ch <- event:
	default:
		b.logger.Warn(
			"order stream backlogged, dropping event",
			zap.String("order_id", event.OrderID),
			zap.Int64("version", event.Version),
		)
	}
}

// Shutdown stops accepting events and completes the output stream: every
// worker delivers its trailing event before Shutdown returns.
func (b *Bus) Shutdown() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, ch := range b.workers {
		close(ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Bus) Metrics() domain.BusMetrics {
	return domain.BusMetrics{
		Received:     b.received.Load(),
		DedupDropped: b.dedupDropped.Load(),
		Emitted:      b.emitted.Load(),
	}
}

func (b *Bus) runOrderStream(orderID string, ch chan domain.StatusChangedEvent) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(
				"order stream failed",
				zap.String("order_id", orderID),
				zap.Any("panic", r),
			)

			b.mu.Lock()
			delete(b.workers, orderID)
			b.mu.Unlock()
		}
	}()

	var (
		seen        bool
		lastVersion int64
		pending     *domain.StatusChangedEvent
		windowOpen  bool
	)

	window := time.NewTimer(b.cfg.Throttle)
	if !window.Stop() {
		<-window.C
	}
	defer window.Stop()

	idle := time.NewTimer(b.cfg.IdleTTL)
	defer idle.Stop()

	for {
		var windowC <-chan time.Time
		if windowOpen {
			windowC = window.C
		}

		select {
		case event, ok := <-ch:
			if !ok {
				if pending != nil {
					b.emit(*pending)
				}
				return
			}

			if seen && event.Version == lastVersion {
				b.dedupDropped.Add(1)
				continue
			}
			seen = true
			lastVersion = event.Version

			if windowOpen {
				// Intermediate events inside the window are replaced; the
				// last one wins when the window closes.
				pending = &event
			} else {
				b.emit(event)
				windowOpen = true
				window.Reset(b.cfg.Throttle)
			}

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(b.cfg.IdleTTL)

		case <-windowC:
			if pending != nil {
				b.emit(*pending)
				pending = nil
				window.Reset(b.cfg.Throttle)
			} else {
				windowOpen = false
			}

		case <-idle.C:
			idle.Reset(b.cfg.IdleTTL)
			if windowOpen || pending != nil {
				continue
			}

			// Publish sends while holding the same lock, so an empty
			// channel here means the worker can retire without losing
			// anything.
			b.mu.Lock()
			if len(ch) == 0 && !b.closed {
				delete(b.workers, orderID)
				b.mu.Unlock()
				return
			}
			b.mu.Unlock()
		}
	}
}

func (b *Bus) emit(event domain.StatusChangedEvent) {
	b.mu.Lock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error(
						"event handler panicked",
						zap.String("order_id", event.OrderID),
						zap.Any("panic", r),
					)
				}
			}()

			handler(event)
		}()
	}

	b.emitted.Add(1)
}
