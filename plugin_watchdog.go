package s7

import (
	"sync"
	"time"
)

// ConnectionEventType describes the type of connection event.
type ConnectionEventType string

const (
	ConnectionEventConnected    ConnectionEventType = "connected"
	ConnectionEventDisconnected ConnectionEventType = "disconnected"
	ConnectionEventDropped      ConnectionEventType = "dropped"
)

// ConnectionEvent is emitted whenever the client connects, disconnects or
// loses its connection to an error.
type ConnectionEvent struct {
	Time      time.Time
	Type      ConnectionEventType
	IP        string
	Err       error         // set when the connection was dropped
	Downtime  time.Duration // time spent disconnected (on connect)
	Connected bool          // connection state after the event
}

// ConnectionStats contains snapshot metrics about connection health.
type ConnectionStats struct {
	Connected         bool
	Connects          int
	Drops             int
	LastConnected     time.Time
	LastDisconnected  time.Time
	CurrentDowntime   time.Duration
	TotalDowntime     time.Duration
	LastDisconnectErr error
}

// ConnectionWatchdog is a plugin that tracks connection uptime/downtime and emits events.
// Hooks are non-blocking; events are dropped if the channel buffer is full.
// The client never reconnects on its own; a supervisor can watch for
// ConnectionEventDropped and call Connect again.
type ConnectionWatchdog struct {
	events chan ConnectionEvent

	mu sync.RWMutex

	// guarded by mu
	connected        bool
	connects         int
	drops            int
	lastConnected    time.Time
	lastDisconnected time.Time
	downtimeStart    time.Time
	totalDowntime    time.Duration
	lastErr          error
}

// NewConnectionWatchdog creates a new watchdog plugin.
// eventBuffer controls the channel buffer size for Events(); use 0 for the default of 16.
func NewConnectionWatchdog(eventBuffer int) *ConnectionWatchdog {
	if eventBuffer <= 0 {
		eventBuffer = 16
	}
	return &ConnectionWatchdog{
		events: make(chan ConnectionEvent, eventBuffer),
	}
}

// Name implements Plugin.
func (w *ConnectionWatchdog) Name() string { return "connection_watchdog" }

// Initialize implements Plugin. No-op.
func (w *ConnectionWatchdog) Initialize(*Client) error { return nil }

// OnConnected implements ConnectionPlugin.
func (w *ConnectionWatchdog) OnConnected(c *Client) error {
	now := time.Now()
	var downtime time.Duration

	w.mu.Lock()
	if !w.downtimeStart.IsZero() {
		downtime = now.Sub(w.downtimeStart)
		w.totalDowntime += downtime
		w.downtimeStart = time.Time{}
	}
	w.connected = true
	w.connects++
	w.lastConnected = now
	w.mu.Unlock()

	w.emit(ConnectionEvent{
		Time:      now,
		Type:      ConnectionEventConnected,
		IP:        clientIP(c),
		Downtime:  downtime,
		Connected: true,
	})
	return nil
}

// OnDisconnected implements ConnectionPlugin.
func (w *ConnectionWatchdog) OnDisconnected(c *Client, err error) error {
	now := time.Now()

	w.mu.Lock()
	w.connected = false
	w.lastDisconnected = now
	w.downtimeStart = now
	if err != nil {
		w.drops++
		w.lastErr = err
	}
	w.mu.Unlock()

	typ := ConnectionEventDisconnected
	if err != nil {
		typ = ConnectionEventDropped
	}
	w.emit(ConnectionEvent{
		Time:      now,
		Type:      typ,
		IP:        clientIP(c),
		Err:       err,
		Connected: false,
	})
	return nil
}

// Events returns a read-only channel of connection events.
func (w *ConnectionWatchdog) Events() <-chan ConnectionEvent {
	return w.events
}

// Stats returns a snapshot of connection health metrics.
func (w *ConnectionWatchdog) Stats() ConnectionStats {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := ConnectionStats{
		Connected:         w.connected,
		Connects:          w.connects,
		Drops:             w.drops,
		LastConnected:     w.lastConnected,
		LastDisconnected:  w.lastDisconnected,
		TotalDowntime:     w.totalDowntime,
		LastDisconnectErr: w.lastErr,
	}
	if !w.connected && !w.downtimeStart.IsZero() {
		stats.CurrentDowntime = time.Since(w.downtimeStart)
	}
	return stats
}

func (w *ConnectionWatchdog) emit(evt ConnectionEvent) {
	select {
	case w.events <- evt:
	default:
		// Drop if buffer is full to avoid blocking hooks.
	}
}

// clientIP reads the IP without taking any client lock held during hooks.
func clientIP(c *Client) string {
	if c == nil {
		return ""
	}
	if s := c.session(); s != nil {
		return s.Info().IP
	}
	return ""
}

// Ensure ConnectionWatchdog satisfies the interfaces.
var _ ConnectionPlugin = (*ConnectionWatchdog)(nil)
var _ Plugin = (*ConnectionWatchdog)(nil)
