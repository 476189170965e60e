// Package portcache keeps recently resolved port listings in memory so
// repeated queries do not hit the resolvers every time. Snapshots are
// kept per requested protocol, diffed on every refresh, and the
// resulting change events are retained for historical queries.
package portcache

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/polidog/kilar/internal/strategy"
	"github.com/polidog/kilar/pkg/model"
)

// DefaultUpdateInterval is how long a cached snapshot counts as fresh.
const DefaultUpdateInterval = 5 * time.Second

const (
	maxChangeLog     = 1000
	trimmedChangeLog = 500
)

// Source resolves listening ports. The strategy selector is the only
// production implementation.
type Source interface {
	ListProcesses(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error)
	CheckPort(ctx context.Context, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error)
	ClearCache()
}

var _ Source = (*strategy.Selector)(nil)

type entry struct {
	records     []model.ProcessRecord
	lastUpdated time.Time
}

// Cache serves port listings from per-protocol snapshots, refreshing
// through its Source once a snapshot goes stale. All methods are safe
// for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	src      Source
	interval time.Duration
	entries  map[model.Protocol]*entry
	index    map[uint16]model.ProcessRecord
	changes  []model.ChangeEvent

	now func() time.Time
	log logrus.FieldLogger
}

func New(src Source, log logrus.FieldLogger) *Cache {
	return &Cache{
		src:      src,
		interval: DefaultUpdateInterval,
		entries:  make(map[model.Protocol]*entry),
		index:    make(map[uint16]model.ProcessRecord),
		now:      time.Now,
		log:      log,
	}
}

// SetUpdateInterval changes the freshness window. It does not reset
// timestamps already recorded.
func (c *Cache) SetUpdateInterval(d time.Duration) {
	c.mu.Lock()
	c.interval = d
	c.mu.Unlock()
}

// Processes returns the listening processes for proto, refreshing the
// snapshot through the Source if it is stale or absent.
func (c *Cache) Processes(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	c.mu.RLock()
	if e, ok := c.entries[proto]; ok && c.fresh(e) {
		records := append([]model.ProcessRecord(nil), e.records...)
		c.mu.RUnlock()
		return records, nil
	}
	c.mu.RUnlock()

	return c.refresh(ctx, proto)
}

// Port answers a single-port query. While the protocol snapshot is
// fresh the port index is authoritative, so a miss means the port is
// free and no resolver runs. Once stale, the Source is asked about just
// that port and the index entry is updated, but the snapshot itself is
// not stamped fresh: only a full listing does that.
func (c *Cache) Port(ctx context.Context, port uint16, proto model.Protocol) (model.ProcessRecord, bool, error) {
	c.mu.RLock()
	if e, ok := c.entries[proto]; ok && c.fresh(e) {
		rec, hit := c.index[port]
		c.mu.RUnlock()
		if hit && proto.Matches(rec.Protocol) {
			return rec, true, nil
		}
		return model.ProcessRecord{}, false, nil
	}
	c.mu.RUnlock()

	rec, found, err := c.src.CheckPort(ctx, port, proto)
	if err != nil {
		return model.ProcessRecord{}, false, err
	}
	if found {
		c.mu.Lock()
		c.index[port] = rec
		c.mu.Unlock()
	}
	return rec, found, nil
}

// ChangesSince returns every recorded change observed strictly after
// since, oldest first.
func (c *Cache) ChangesSince(since time.Time) []model.ChangeEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.ChangeEvent
	for _, ev := range c.changes {
		if ev.ObservedAt.After(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Changes returns the full retained change log, oldest first.
func (c *Cache) Changes() []model.ChangeEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.ChangeEvent(nil), c.changes...)
}

// ForceRefresh drops every snapshot and index entry so the next query
// resolves from scratch, and clears the Source's own caches. The change
// log is kept for historical queries.
func (c *Cache) ForceRefresh() {
	c.mu.Lock()
	c.entries = make(map[model.Protocol]*entry)
	c.index = make(map[uint16]model.ProcessRecord)
	c.mu.Unlock()

	c.src.ClearCache()
}

// Monitor is a handle for a background refresh loop. Stopping it only
// prevents future ticks; a refresh already in flight runs to completion.
type Monitor struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Stop halts the refresh loop and waits for it to exit. Safe to call
// more than once.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stop) })
	<-m.done
}

// StartMonitoring refreshes each of the given protocols on the cache's
// update interval until the context is canceled or Stop is called.
// Failed refreshes are logged and retried on the next tick.
func (c *Cache) StartMonitoring(ctx context.Context, protocols []model.Protocol) *Monitor {
	m := &Monitor{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	c.mu.RLock()
	interval := c.interval
	c.mu.RUnlock()

	go func() {
		defer close(m.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				for _, proto := range protocols {
					if _, err := c.refresh(ctx, proto); err != nil {
						c.log.WithError(err).WithField("protocol", proto).Debug("background refresh failed")
					}
				}
			}
		}
	}()

	return m
}

// refresh lists through the Source outside the lock, then swaps the
// snapshot in. Two callers racing on the same stale entry both refresh;
// the lock serializes their writes so the diff always runs against the
// snapshot it replaces.
func (c *Cache) refresh(ctx context.Context, proto model.Protocol) ([]model.ProcessRecord, error) {
	current, err := c.src.ListProcesses(ctx, proto)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.apply(proto, current)
	c.mu.Unlock()

	return append([]model.ProcessRecord(nil), current...), nil
}

// apply replaces the proto snapshot with current, reindexes its ports,
// and appends the diff to the change log. Callers hold the write lock.
func (c *Cache) apply(proto model.Protocol, current []model.ProcessRecord) {
	var old []model.ProcessRecord
	if e, ok := c.entries[proto]; ok {
		old = e.records
	}

	events := diff(old, current, c.now())

	c.entries[proto] = &entry{records: current, lastUpdated: c.now()}

	currentPorts := make(map[uint16]struct{}, len(current))
	for _, rec := range current {
		c.index[rec.Port] = rec
		currentPorts[rec.Port] = struct{}{}
	}
	for _, rec := range old {
		if _, ok := currentPorts[rec.Port]; !ok {
			delete(c.index, rec.Port)
		}
	}

	if len(events) > 0 {
		c.changes = append(c.changes, events...)
		c.trimChanges()
		c.log.WithFields(logrus.Fields{
			"protocol": proto,
			"changes":  len(events),
		}).Debug("port snapshot changed")
	}
}

// trimChanges caps the change log. When the cap is exceeded only the
// newest trimmedChangeLog events survive; the copy releases the old
// backing array.
func (c *Cache) trimChanges() {
	if len(c.changes) <= maxChangeLog {
		return
	}
	kept := make([]model.ChangeEvent, trimmedChangeLog)
	copy(kept, c.changes[len(c.changes)-trimmedChangeLog:])
	c.changes = kept
}

func (c *Cache) fresh(e *entry) bool {
	return c.now().Sub(e.lastUpdated) < c.interval
}

// diff compares two snapshots port by port. A port only in current is
// added, only in old is removed, and in both with a different owning
// process is modified. Events carry the record from the newer snapshot
// except for removals, which carry the record that disappeared.
func diff(old, current []model.ProcessRecord, at time.Time) []model.ChangeEvent {
	oldByPort := byPort(old)
	newByPort := byPort(current)

	var events []model.ChangeEvent
	for port, rec := range newByPort {
		if _, ok := oldByPort[port]; !ok {
			events = append(events, model.ChangeEvent{ObservedAt: at, Kind: model.ChangeAdded, Record: rec})
		}
	}
	for port, rec := range oldByPort {
		if _, ok := newByPort[port]; !ok {
			events = append(events, model.ChangeEvent{ObservedAt: at, Kind: model.ChangeRemoved, Record: rec})
		}
	}
	for port, rec := range newByPort {
		if prev, ok := oldByPort[port]; ok && !prev.Same(rec) {
			events = append(events, model.ChangeEvent{ObservedAt: at, Kind: model.ChangeModified, Record: rec})
		}
	}
	return events
}

func byPort(records []model.ProcessRecord) map[uint16]model.ProcessRecord {
	m := make(map[uint16]model.ProcessRecord, len(records))
	for _, rec := range records {
		m[rec.Port] = rec
	}
	return m
}
