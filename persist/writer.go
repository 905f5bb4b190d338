package persist

import (
	"log"
	"sync"
	"time"
)

// Writer decouples snapshot writes from the event path. Request is
// fire-and-forget and rate-limited; the event path never waits on
// file I/O.
type Writer struct {
	save     func() error
	minGap   time.Duration
	requests chan struct{}

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewWriter starts the writer goroutine. save performs one snapshot
// write; minGap is the minimum spacing between event-driven writes.
func NewWriter(save func() error, minGap time.Duration) *Writer {
	w := &Writer{
		save:     save,
		minGap:   minGap,
		requests: make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

// Request schedules a write. Coalesces when one is already pending.
func (w *Writer) Request() {
	select {
	case w.requests <- struct{}{}:
	default:
	}
}

// SaveNow performs an immediate write, bypassing the rate limit. Used
// by the periodic save tick and the shutdown path.
func (w *Writer) SaveNow() {
	if err := w.save(); err != nil {
		log.Printf("ERROR: snapshot write failed: %v", err)
	}
}

// Close flushes a final write and stops the goroutine.
func (w *Writer) Close() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.SaveNow()
	})
}

func (w *Writer) run() {
	defer close(w.done)
	var lastWrite time.Time
	for {
		select {
		case <-w.stop:
			return
		case <-w.requests:
			if gap := time.Since(lastWrite); gap < w.minGap {
				select {
				case <-time.After(w.minGap - gap):
				case <-w.stop:
					return
				}
			}
			w.SaveNow()
			lastWrite = time.Now()
		}
	}
}
