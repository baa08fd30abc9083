package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kestrel-social/kestrel/internal/domain/storage"
)

// TelemetryService records loop and tool telemetry asynchronously through a
// buffered channel and a background worker, so recording never blocks a
// scheduler loop or a tool call.
type TelemetryService struct {
	store         storage.Store
	events        chan storage.TelemetryEvent
	wg            sync.WaitGroup
	stopOnce      sync.Once
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // percent of capacity
	lastWarning      atomic.Int64 // unix nanos
}

// TelemetryOption configures TelemetryService.
type TelemetryOption func(*TelemetryService)

// WithBatchSize sets the number of events to batch before writing.
func WithBatchSize(size int) TelemetryOption {
	return func(s *TelemetryService) {
		s.batchSize = size
	}
}

// WithFlushInterval sets the interval to flush pending events.
func WithFlushInterval(interval time.Duration) TelemetryOption {
	return func(s *TelemetryService) {
		s.flushInterval = interval
	}
}

// WithChannelSize sets the size of the event buffer.
func WithChannelSize(size int) TelemetryOption {
	return func(s *TelemetryService) {
		s.events = make(chan storage.TelemetryEvent, size)
		s.channelSize = size
	}
}

// WithSendTimeout sets the backpressure timeout.
func WithSendTimeout(timeout time.Duration) TelemetryOption {
	return func(s *TelemetryService) {
		s.sendTimeout = timeout
	}
}

// NewTelemetryService creates a TelemetryService writing to store.
func NewTelemetryService(store storage.Store, logger *slog.Logger, opts ...TelemetryOption) *TelemetryService {
	const defaultChannelSize = 1000
	s := &TelemetryService{
		store:            store,
		events:           make(chan storage.TelemetryEvent, defaultChannelSize),
		logger:           logger,
		batchSize:        100,
		flushInterval:    time.Second,
		channelSize:      defaultChannelSize,
		sendTimeout:      50 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker.
func (s *TelemetryService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues an event. Missing IDs and timestamps are filled in.
func (s *TelemetryService) Record(e storage.TelemetryEvent) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	if depth := len(s.events); s.warningThreshold > 0 && depth >= s.channelSize*s.warningThreshold/100 {
		s.warnChannelDepth(depth)
	}

	select {
	case s.events <- e:
		return
	default:
	}
	if s.sendTimeout <= 0 {
		s.recordDrop(e)
		return
	}
	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.events <- e:
	case <-timer.C:
		s.recordDrop(e)
	}
}

// List reads stored telemetry, newest first.
func (s *TelemetryService) List(ctx context.Context, f storage.TelemetryFilter) ([]storage.TelemetryEvent, error) {
	return s.store.ListTelemetry(ctx, f)
}

func (s *TelemetryService) recordDrop(e storage.TelemetryEvent) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("telemetry event dropped",
		"source", e.Source,
		"name", e.Name,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *TelemetryService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("telemetry channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
		)
	}
}

// DroppedEvents returns the number of dropped events.
func (s *TelemetryService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// Depth returns the number of buffered events.
func (s *TelemetryService) Depth() int {
	return len(s.events)
}

// Capacity returns the buffer size.
func (s *TelemetryService) Capacity() int {
	return s.channelSize
}

// Stop closes the buffer and waits for the worker to flush what is pending.
// Record must not be called after Stop.
func (s *TelemetryService) Stop() {
	s.stopOnce.Do(func() { close(s.events) })
	s.wg.Wait()
}

func (s *TelemetryService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]storage.TelemetryEvent, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	finalFlush := func() {
		if len(batch) == 0 {
			return
		}
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.flush(flushCtx, batch)
		cancel()
	}

	for {
		select {
		case e, ok := <-s.events:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain whatever is buffered without waiting for Stop.
			for {
				select {
				case e, ok := <-s.events:
					if !ok {
						finalFlush()
						return
					}
					batch = append(batch, e)
				default:
					finalFlush()
					return
				}
			}
		}
	}
}

func (s *TelemetryService) flush(ctx context.Context, batch []storage.TelemetryEvent) {
	if err := s.store.AppendTelemetry(ctx, batch...); err != nil {
		s.logger.Error("failed to write telemetry", "count", len(batch), "error", err)
	}
}
