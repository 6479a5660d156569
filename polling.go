package security

import (
	"fmt"
	"time"

	"github.com/WatchBeam/clock"
)

// EventType classifies an Event as routine or an error.
type EventType int

const (
	InfoType EventType = iota
	ErrorType
)

// Event is one step of a check-for-updates cycle.
type Event struct {
	Time        time.Time
	Description string
	Type        EventType
}

// Events accumulates the steps of one check-for-updates cycle, delivered
// to a NotificationHandler when the cycle finishes.
type Events struct {
	History []Event
}

func (evts *Events) push(now time.Time, evtType EventType, format string, args ...interface{}) {
	evts.History = append(evts.History, Event{now, fmt.Sprintf(format, args...), evtType})
}

// HasErrors reports whether any event in the cycle was an error.
func (evts Events) HasErrors() bool {
	for _, e := range evts.History {
		if e.Type == ErrorType {
			return true
		}
	}
	return false
}

// NotificationHandler is invoked after every polling cycle with that
// cycle's Events.
type NotificationHandler func(Events)

const defaultCheckFrequency = 1 * time.Hour
const minimumCheckFrequency = 10 * time.Minute

// Frequency overrides the default polling interval. Anything below
// minimumCheckFrequency is rejected by StartPolling.
func Frequency(d time.Duration) Option {
	return func(c *Client) { c.checkFrequency = d }
}

// WantNotifications registers a handler invoked after each polling cycle.
func WantNotifications(h NotificationHandler) Option {
	return func(c *Client) { c.notificationHandler = h }
}

// WithClock overrides the Client's notion of "now", for deterministic
// tests of expiry and freshness checks.
func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

// StartPolling begins a background goroutine that calls CheckForUpdates
// every checkFrequency (1h by default, Frequency to override) until
// StopPolling is called. Frequencies under minimumCheckFrequency are rejected.
func (c *Client) StartPolling() error {
	if c.checkFrequency < minimumCheckFrequency {
		return fmt.Errorf("check frequency must be %s or greater", minimumCheckFrequency)
	}
	c.ticker = time.NewTicker(c.checkFrequency)
	c.done = make(chan struct{})
	go c.pollLoop(c.ticker.C, c.done)
	return nil
}

// StopPolling halts the background polling goroutine started by
// StartPolling. It is a no-op if polling was never started.
func (c *Client) StopPolling() {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	if c.done != nil {
		c.done <- struct{}{}
	}
}

func (c *Client) pollLoop(ticks <-chan time.Time, done <-chan struct{}) {
	for {
		select {
		case <-ticks:
			c.runPollCycle()
		case <-done:
			return
		}
	}
}

func (c *Client) runPollCycle() {
	var events Events
	defer func() {
		if c.notificationHandler != nil {
			c.notificationHandler(events)
		}
	}()

	now := c.clock.Now()
	events.push(now, InfoType, "start check for updates")
	result, err := c.CheckForUpdates()
	if err != nil {
		events.push(c.clock.Now(), ErrorType, "check for updates failed: %s", err)
		return
	}
	if result.IndexChanged {
		events.push(c.clock.Now(), InfoType, "index updated to snapshot version %d", result.SnapshotVersion)
	} else {
		events.push(c.clock.Now(), InfoType, "no changes")
	}
}
