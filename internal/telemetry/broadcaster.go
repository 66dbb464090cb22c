// Package telemetry fans out drive-state snapshots to interested clients,
// typically websocket connections held by the controller page.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robotpi/robotd/internal/domain"
	"github.com/robotpi/robotd/internal/metrics"
)

// subscriberBuffer is how many frames a subscriber may lag before frames are
// dropped for it. The drive loop must never block on a slow phone browser.
const subscriberBuffer = 8

// Broadcaster distributes state snapshots to subscribers and re-sends the
// last known state on a heartbeat so idle clients still see a live feed.
type Broadcaster struct {
	heartbeat time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	subs    map[chan domain.DriveState]struct{}
	last    domain.DriveState
	hasLast bool
	running bool
	stopped bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewBroadcaster creates a broadcaster with the given heartbeat interval.
func NewBroadcaster(heartbeat time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		heartbeat: heartbeat,
		logger:    logger,
		subs:      make(map[chan domain.DriveState]struct{}),
		stopChan:  make(chan struct{}),
	}
}

// Start begins the heartbeat loop. Non-blocking.
func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.heartbeatLoop()
}

// Stop terminates the heartbeat loop and closes all subscriber channels.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	b.stopped = true
	b.mu.Unlock()

	close(b.stopChan)
	b.wg.Wait()

	b.mu.Lock()
	for ch := range b.subs {
		close(ch)
	}
	b.subs = make(map[chan domain.DriveState]struct{})
	b.mu.Unlock()
}

// Publish sends a snapshot to every subscriber. Slow subscribers lose the
// frame rather than stalling the publisher.
func (b *Broadcaster) Publish(state domain.DriveState) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = state
	b.hasLast = true

	for ch := range b.subs {
		select {
		case ch <- state:
		default:
			metrics.TelemetryDropped.Inc()
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called when the subscriber goes away; it closes the channel.
func (b *Broadcaster) Subscribe() (<-chan domain.DriveState, func()) {
	ch := make(chan domain.DriveState, subscriberBuffer)

	b.mu.Lock()
	// A subscriber arriving after Stop gets a closed channel immediately;
	// nobody is left to close it for them later.
	if b.stopped {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	// A fresh subscriber gets the current state immediately instead of
	// waiting for the next change.
	if b.hasLast {
		ch <- b.last
	}
	n := len(b.subs)
	b.mu.Unlock()

	b.logger.Debug("telemetry subscriber added", zap.Int("subscribers", n))

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Last returns the most recent snapshot, if any was published.
func (b *Broadcaster) Last() (domain.DriveState, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// heartbeatLoop re-publishes the last state periodically.
func (b *Broadcaster) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if last, ok := b.Last(); ok {
				b.Publish(last)
			}
		case <-b.stopChan:
			return
		}
	}
}
