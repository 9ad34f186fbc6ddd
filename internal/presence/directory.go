package presence

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/realtime"
	"github.com/aura-chat/peernet/pkg/logger"
	"github.com/aura-chat/peernet/pkg/metrics"
)

const (
	DefaultSweepInterval = 10 * time.Second
	DefaultExpiry        = 10 * time.Minute
	DefaultScanWindow    = 3 * time.Second
)

// DirectoryConfig tunes expiry and scanning. Zero values take the defaults.
type DirectoryConfig struct {
	SweepInterval time.Duration
	Expiry        time.Duration
	ScanWindow    time.Duration
	Now           func() time.Time
}

func (c DirectoryConfig) withDefaults() DirectoryConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.Expiry <= 0 {
		c.Expiry = DefaultExpiry
	}
	if c.ScanWindow <= 0 {
		c.ScanWindow = DefaultScanWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Entry is a discovered peer. Identity holds the first-seen display fields;
// LastSeenAt is refreshed by every heartbeat.
type Entry struct {
	Identity    model.Identity
	FirstSeenAt time.Time
	LastSeenAt  time.Time
}

// Directory is the ephemeral set of peers visible to the local identity.
type Directory struct {
	self    model.Identity
	channel realtime.Channel
	cfg     DirectoryConfig
	logger  *logger.Logger

	mu            sync.RWMutex
	entries       map[string]*Entry
	order         []string
	scanningUntil time.Time

	loopMu sync.Mutex
	stop   chan struct{}
}

// NewDirectory creates a directory for self. ch is used by Scan to solicit
// announcements.
func NewDirectory(self model.Identity, ch realtime.Channel, cfg DirectoryConfig, log *logger.Logger) *Directory {
	return &Directory{
		self:    self,
		channel: ch,
		cfg:     cfg.withDefaults(),
		logger:  logger.OrNop(log).Component("presence_directory"),
		entries: make(map[string]*Entry),
	}
}

// Observe records a PRESENCE event. Self is ignored; a known peer only has
// its LastSeenAt refreshed.
func (d *Directory) Observe(ev *model.PresenceEvent) {
	if ev == nil || ev.User.ID == "" || ev.User.ID == d.self.ID {
		return
	}
	now := d.cfg.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.entries[ev.User.ID]; ok {
		e.LastSeenAt = now
		return
	}
	d.entries[ev.User.ID] = &Entry{Identity: ev.User, FirstSeenAt: now, LastSeenAt: now}
	d.order = append(d.order, ev.User.ID)
	d.recordSizeLocked()

	d.logger.Debug("peer discovered",
		zap.String("peer_id", ev.User.ID),
		zap.String("peer_name", ev.User.Name))
}

// Peers returns the discovered peers in discovery order.
func (d *Directory) Peers() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, *d.entries[id])
	}
	return out
}

// Lookup returns the entry for a peer id.
func (d *Directory) Lookup(id string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	e, ok := d.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of visible peers.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Scan clears the directory, re-announces self so listening peers answer
// with their next heartbeat, and enters the scanning state for the scan
// window. Discovery is not blocked while scanning.
func (d *Directory) Scan() {
	d.mu.Lock()
	d.entries = make(map[string]*Entry)
	d.order = nil
	d.scanningUntil = d.cfg.Now().Add(d.cfg.ScanWindow)
	d.recordSizeLocked()
	d.mu.Unlock()

	d.channel.Publish(&model.PresenceEvent{User: d.self})
	d.logger.Debug("scan started", zap.Duration("window", d.cfg.ScanWindow))
}

// Scanning reports whether a scan window is open.
func (d *Directory) Scanning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg.Now().Before(d.scanningUntil)
}

// Sweep evicts peers whose last heartbeat is older than the expiry threshold
// and returns how many were removed.
func (d *Directory) Sweep() int {
	now := d.cfg.Now()

	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.order[:0]
	removed := 0
	for _, id := range d.order {
		if now.Sub(d.entries[id].LastSeenAt) > d.cfg.Expiry {
			delete(d.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	d.order = kept

	if removed > 0 {
		metrics.PresenceExpired.Add(float64(removed))
		d.recordSizeLocked()
		d.logger.Debug("expired peers removed", zap.Int("count", removed))
	}
	return removed
}

func (d *Directory) recordSizeLocked() {
	metrics.PresencePeers.WithLabelValues(d.self.ID).Set(float64(len(d.entries)))
}

// Start runs Sweep every sweep interval until Stop. Calling Start while
// running does nothing.
func (d *Directory) Start() {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()

	if d.stop != nil {
		return
	}
	stop := make(chan struct{})
	d.stop = stop

	go func() {
		ticker := time.NewTicker(d.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.Sweep()
			}
		}
	}()
}

// Stop halts the sweep loop. Safe to call more than once.
func (d *Directory) Stop() {
	d.loopMu.Lock()
	defer d.loopMu.Unlock()

	if d.stop == nil {
		return
	}
	close(d.stop)
	d.stop = nil
}
