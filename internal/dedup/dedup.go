// Package dedup tracks which (task, trigger class, deadline date) triples
// were already notified so repeated scans never re-send them.
//
// The set is persisted through storage.Store and fronted by an in-memory
// map. Callers must not run two scans against the same Deduplicator at once;
// the scheduler's single-flight guarantee provides that. The internal mutex
// only protects against concurrent dispatch workers within one scan.
package dedup

import (
	"context"
	"sync"
	"time"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/storage"
	logx "deadlinebot/pkg/logx"
)

// Key identifies one notification. Class and date have fixed formats and
// come last, so keys stay unambiguous even if a task id contains '|'.
type Key string

func KeyOf(taskID string, c deadline.Class, d deadline.Date) Key {
	return Key(taskID + "|" + string(c) + "|" + d.String())
}

const (
	DefaultRetention = 72 * time.Hour
	storeTimeout     = 2 * time.Second
)

type Config struct {
	// Retention is how long a key is kept after its deadline day.
	Retention time.Duration
}

type Deduplicator struct {
	store     storage.Store
	log       logx.Logger
	retention time.Duration
	now       func() time.Time

	mu      sync.Mutex
	sent    map[Key]time.Time // key -> keep until
	pending map[Key]struct{}
}

// New returns a Deduplicator. store may be nil, in which case keys live only
// in memory and are lost on restart.
func New(store storage.Store, cfg Config, log logx.Logger) *Deduplicator {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Deduplicator{
		store:     store,
		log:       log,
		retention: cfg.Retention,
		now:       time.Now,
		sent:      map[Key]time.Time{},
		pending:   map[Key]struct{}{},
	}
}

// Apply changes the retention for keys recorded from now on.
func (d *Deduplicator) Apply(cfg Config) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	d.mu.Lock()
	d.retention = cfg.Retention
	d.mu.Unlock()
}

// Admit reports whether key may be dispatched. A true result reserves the
// key until Record or Release, so the same key is admitted at most once per
// scan even if the source returns the task twice.
//
// A store read failure admits the key: delivery is at-least-once.
func (d *Deduplicator) Admit(ctx context.Context, key Key) bool {
	now := d.now()

	d.mu.Lock()
	if until, ok := d.sent[key]; ok && now.Before(until) {
		d.mu.Unlock()
		return false
	}
	if _, ok := d.pending[key]; ok {
		d.mu.Unlock()
		return false
	}
	d.mu.Unlock()

	if d.store != nil {
		cctx, cancel := context.WithTimeout(ctx, storeTimeout)
		until, ok, err := d.store.GetKey(cctx, string(key))
		cancel()
		if err != nil {
			d.log.Warn("dedup store read failed; admitting", logx.String("key", string(key)), logx.Err(err))
		} else if ok && now.Before(until) {
			d.mu.Lock()
			d.sent[key] = until
			d.mu.Unlock()
			return false
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[key]; ok {
		return false
	}
	d.pending[key] = struct{}{}
	return true
}

// Record marks key as delivered and persists it until the deadline day plus
// the retention window.
func (d *Deduplicator) Record(ctx context.Context, key Key, dl deadline.Date) error {
	d.mu.Lock()
	until := dl.AddDays(1).Time().Add(d.retention)
	delete(d.pending, key)
	d.sent[key] = until
	d.mu.Unlock()

	if d.store == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	return d.store.PutKey(cctx, string(key), until)
}

// Release drops the reservation taken by Admit so the key is retried on the
// next scan.
func (d *Deduplicator) Release(key Key) {
	d.mu.Lock()
	delete(d.pending, key)
	d.mu.Unlock()
}

// Prune forgets expired keys in memory and in the store.
func (d *Deduplicator) Prune(ctx context.Context) (int, error) {
	now := d.now()
	d.mu.Lock()
	n := 0
	for k, until := range d.sent {
		if !now.Before(until) {
			delete(d.sent, k)
			n++
		}
	}
	d.mu.Unlock()

	if d.store == nil {
		return n, nil
	}
	cctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	removed, err := d.store.Prune(cctx, now)
	if removed > n {
		n = removed
	}
	return n, err
}

// Len returns the number of keys currently held in memory.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}
