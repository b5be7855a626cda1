package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// flushBatchSize caps how many events one flush writes.
const flushBatchSize = 100

// Writer buffers audit events in memory and flushes them to the store in
// batches, keeping request handlers off the database's critical path.
type Writer struct {
	store  *Store
	logger *zap.Logger

	events        chan *Event
	done          chan struct{}
	wg            sync.WaitGroup
	flushInterval time.Duration
}

// NewWriter starts a background writer over store.
func NewWriter(store *Store, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if flushInterval <= 0 {
		flushInterval = 2 * time.Second
	}

	w := &Writer{
		store:         store,
		logger:        logger,
		events:        make(chan *Event, bufferSize),
		done:          make(chan struct{}),
		flushInterval: flushInterval,
	}

	w.wg.Add(1)
	go w.run()
	return w
}

// Record queues an event without blocking. When the buffer is full the event
// is dropped; audit must never stall redaction.
func (w *Writer) Record(event *Event) {
	select {
	case w.events <- event:
	default:
		w.logger.Warn("Audit buffer full, dropping event",
			zap.String("operation", event.Operation))
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	batch := make([]*Event, 0, flushBatchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := w.store.BatchInsert(ctx, batch); err != nil {
			w.logger.Error("Audit flush failed",
				zap.Error(err),
				zap.Int("events", len(batch)))
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case event := <-w.events:
			batch = append(batch, event)
			if len(batch) >= flushBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// Drain whatever is queued, then flush once and stop.
			for {
				select {
				case event := <-w.events:
					batch = append(batch, event)
					if len(batch) >= flushBatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close flushes pending events and stops the writer.
func (w *Writer) Close() error {
	close(w.done)
	w.wg.Wait()
	return nil
}
