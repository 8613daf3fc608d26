package realtime

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWriteDelay is the quiet period after the most recent mutation
// before a board's state is flushed to the store.
const DefaultWriteDelay = 500 * time.Millisecond

// Writer debounces persistence: each board has at most one pending
// timer, rearmed by every mutation, and the write that eventually runs
// snapshots whatever the state is at that moment. Writes are
// fire-and-forget; a board being deleted does not cancel its pending
// write (overwriting a missing id is a store-level no-op).
type Writer struct {
	delay   time.Duration
	mu      sync.Mutex
	pending map[string]*pendingWrite
	closed  bool
}

type pendingWrite struct {
	timer *time.Timer
	write func()
}

func NewWriter(delay time.Duration) *Writer {
	if delay <= 0 {
		delay = DefaultWriteDelay
	}
	return &Writer{
		delay:   delay,
		pending: make(map[string]*pendingWrite),
	}
}

// Schedule (re)arms the board's timer. The write callback runs once,
// after delay has elapsed with no further Schedule call for the board.
// It must capture current state when it runs, not when scheduled.
func (w *Writer) Schedule(boardID string, write func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		go write()
		return
	}

	if p, ok := w.pending[boardID]; ok {
		p.timer.Stop()
		p.write = write
		p.timer.Reset(w.delay)
		return
	}

	p := &pendingWrite{write: write}
	p.timer = time.AfterFunc(w.delay, func() {
		w.fire(boardID)
	})
	w.pending[boardID] = p
}

func (w *Writer) fire(boardID string) {
	w.mu.Lock()
	p, ok := w.pending[boardID]
	if ok {
		delete(w.pending, boardID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	p.write()
}

// Close stops the debounce clock and runs every pending write
// immediately, so nothing buffered is lost on shutdown.
func (w *Writer) Close() {
	w.mu.Lock()
	w.closed = true
	remaining := make(map[string]*pendingWrite, len(w.pending))
	for boardID, p := range w.pending {
		p.timer.Stop()
		remaining[boardID] = p
	}
	w.pending = make(map[string]*pendingWrite)
	w.mu.Unlock()

	for boardID, p := range remaining {
		logrus.WithField("board_id", boardID).Debug("Flushing pending write on shutdown")
		p.write()
	}
}
