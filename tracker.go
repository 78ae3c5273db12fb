package pfwall

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
)

// FlowKey is the 4-tuple identifying a flow. Ordering is lexicographic over
// the four fields, used by the tracker's ordered map (spec.md §3).
type FlowKey struct {
	SrcIP, DstIP     IPv4
	SrcPort, DstPort uint16
}

func (k FlowKey) less(other FlowKey) bool {
	for i := 0; i < 4; i++ {
		if k.SrcIP[i] != other.SrcIP[i] {
			return k.SrcIP[i] < other.SrcIP[i]
		}
	}
	for i := 0; i < 4; i++ {
		if k.DstIP[i] != other.DstIP[i] {
			return k.DstIP[i] < other.DstIP[i]
		}
	}
	if k.SrcPort != other.SrcPort {
		return k.SrcPort < other.SrcPort
	}
	return k.DstPort < other.DstPort
}

// NatKind identifies the translation, if any, recorded against a Flow.
type NatKind uint8

const (
	NatNone NatKind = iota
	SourceNat
	DestinationNat
)

// NatRecord is the original/translated address pair for a NAT'd flow.
type NatRecord struct {
	OriginalIP     IPv4
	OriginalPort   uint16
	TranslatedIP   IPv4
	TranslatedPort uint16
}

// Flow is a connection-tracker entry for one direction of traffic
// (spec.md §3 "Flow entry"). Its NAT fields must only be read or written
// through Tracker methods, which serialize access per spec.md §5.
type Flow struct {
	Key      FlowKey
	Protocol uint8
	NeedsLog bool

	expiresAt atomic.Int64 // unix seconds; refreshed lock-free per spec.md §9 option (b)

	natKind NatKind
	nat     NatRecord
}

// ExpiresAt returns the flow's current expiry deadline.
func (f *Flow) ExpiresAt() int64 {
	return f.expiresAt.Load()
}

// FlowSnapshot is a value-copy of a Flow, returned across the control-plane
// boundary (spec.md §9 "external views return value copies").
type FlowSnapshot struct {
	Key       FlowKey
	Protocol  uint8
	NeedsLog  bool
	ExpiresAt int64
	NatKind   NatKind
	Nat       NatRecord
}

func newFlow(key FlowKey, protocol uint8, needsLog bool, expiresAt int64) *Flow {
	f := &Flow{Key: key, Protocol: protocol, NeedsLog: needsLog}
	f.expiresAt.Store(expiresAt)
	return f
}

// Tracker is the concurrent, indexed connection table (spec.md §4.1). Flows
// are stored in a balanced search tree ordered by FlowKey (here,
// google/btree's generic BTreeG, standing in for the original's red-black
// tree — see spec.md §4.1 "any equivalent structure is acceptable").
type Tracker struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[*Flow]
	now  func() int64

	metrics *Metrics
}

// NewTracker creates an empty tracker. now defaults to the host clock when
// nil; tests substitute a deterministic source (teacher: Table.Now).
func NewTracker(now func() int64) *Tracker {
	if now == nil {
		now = func() int64 { return time.Now().Unix() }
	}
	less := func(a, b *Flow) bool { return a.Key.less(b.Key) }
	return &Tracker{
		tree: btree.NewG(32, less),
		now:  now,
	}
}

func (t *Tracker) probe(key FlowKey) *Flow {
	return &Flow{Key: key}
}

// Lookup returns the flow for key, refreshing its expiry to now+ConnExpires.
// It never creates entries (spec.md §4.1).
func (t *Tracker) Lookup(key FlowKey) (*Flow, bool) {
	t.mu.RLock()
	f, ok := t.tree.Get(t.probe(key))
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	t.bumpExpiry(f, t.now()+connExpiresSeconds)
	return f, true
}

// bumpExpiry enforces the monotone-non-decreasing invariant (spec.md §3)
// with a lock-free compare-and-swap loop over the atomic field.
func (t *Tracker) bumpExpiry(f *Flow, deadline int64) {
	for {
		cur := f.expiresAt.Load()
		if deadline <= cur {
			return
		}
		if f.expiresAt.CompareAndSwap(cur, deadline) {
			return
		}
	}
}

// Insert adds flow if its key is absent, otherwise returns the existing
// entry unchanged (at-most-once-per-key, spec.md §3 invariant).
func (t *Tracker) Insert(flow *Flow) *Flow {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.tree.Get(flow); ok {
		return existing
	}
	t.tree.ReplaceOrInsert(flow)
	if t.metrics != nil {
		t.metrics.TrackedFlows.Set(float64(t.tree.Len()))
	}
	return flow
}

// NewFlow creates (but does not insert) a Flow for key with expiry set to
// now+ConnExpires.
func (t *Tracker) NewFlow(key FlowKey, protocol uint8, needsLog bool) *Flow {
	return newFlow(key, protocol, needsLog, t.now()+connExpiresSeconds)
}

// SetNat atomically writes the NAT record and kind on an existing entry.
func (t *Tracker) SetNat(flow *Flow, record NatRecord, kind NatKind) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tree.Get(flow); !ok {
		return false
	}
	flow.natKind = kind
	flow.nat = record
	return true
}

// NatInfo reads the NAT kind and record of flow under the tracker's lock.
func (t *Tracker) NatInfo(flow *Flow) (NatKind, NatRecord) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return flow.natKind, flow.nat
}

// ExtendExpiry refreshes flow's expiry to now+seconds, preserving
// monotonicity.
func (t *Tracker) ExtendExpiry(flow *Flow, seconds int64) {
	t.bumpExpiry(flow, t.now()+seconds)
}

// AllocateNATPort returns a port from rule's pool not currently used by any
// SourceNat flow translated to rule.NatIP. The scan starts just after
// rule's cursor, advances by 1 modulo the pool, and terminates
// deterministically after exactly Width() candidates (spec.md §9 resolves
// the original's ill-defined wrap condition this way). Snapshot-consistent:
// the set of ports in use is collected under a single read guard, and the
// candidate scan then runs against that snapshot.
func (t *Tracker) AllocateNATPort(rule *NatRule) (uint16, error) {
	width := rule.PortPool.Width()
	if width <= 0 {
		return 0, ErrNatPortExhausted
	}

	t.mu.RLock()
	inUse := make(map[uint16]bool, t.tree.Len())
	t.tree.Ascend(func(f *Flow) bool {
		if f.natKind == SourceNat && f.nat.TranslatedIP == rule.NatIP {
			inUse[f.nat.TranslatedPort] = true
		}
		return true
	})
	t.mu.RUnlock()

	cursor := rule.loadCursor()
	prevOffset := -1
	if rule.PortPool.Contains(cursor) {
		prevOffset = int(cursor) - int(rule.PortPool.Lo)
	}

	for i := 0; i < width; i++ {
		offset := ((prevOffset+1+i)%width + width) % width
		port := rule.PortPool.Lo + uint16(offset)
		if !inUse[port] {
			rule.storeCursor(port)
			if t.metrics != nil {
				t.metrics.NATAllocated.Inc()
			}
			return port, nil
		}
	}
	if t.metrics != nil {
		t.metrics.NATExhausted.Inc()
	}
	return 0, ErrNatPortExhausted
}

// flowMatcher reports whether a flow's 5-tuple matches a purge predicate.
// protocol=ProtocolAny is treated as a wildcard (spec.md §9, eraseConnRelated).
type flowMatcher func(key FlowKey, protocol uint8) bool

// PurgeMatching removes every entry whose 5-tuple matches pred, using the
// collect-then-erase pattern (spec.md §4.1) so erasure never races live
// iteration. Returns the count removed.
func (t *Tracker) PurgeMatching(pred flowMatcher) int {
	removed := 0
	for {
		t.mu.RLock()
		var victim *Flow
		t.tree.Ascend(func(f *Flow) bool {
			if pred(f.Key, f.Protocol) {
				victim = f
				return false
			}
			return true
		})
		t.mu.RUnlock()
		if victim == nil {
			break
		}
		t.mu.Lock()
		t.tree.Delete(victim)
		t.mu.Unlock()
		removed++
	}
	if t.metrics != nil && removed > 0 {
		t.metrics.PurgedFlows.Add(float64(removed))
		t.mu.RLock()
		t.metrics.TrackedFlows.Set(float64(t.tree.Len()))
		t.mu.RUnlock()
	}
	return removed
}

// SweepExpired removes every entry with ExpiresAt <= now. Returns the count
// removed.
func (t *Tracker) SweepExpired(now int64) int {
	removed := 0
	for {
		t.mu.RLock()
		var victim *Flow
		t.tree.Ascend(func(f *Flow) bool {
			if f.expiresAt.Load() <= now {
				victim = f
				return false
			}
			return true
		})
		t.mu.RUnlock()
		if victim == nil {
			break
		}
		t.mu.Lock()
		t.tree.Delete(victim)
		t.mu.Unlock()
		removed++
	}
	if t.metrics != nil {
		if removed > 0 {
			t.metrics.SweepRemoved.Add(float64(removed))
		}
		t.mu.RLock()
		t.metrics.TrackedFlows.Set(float64(t.tree.Len()))
		t.mu.RUnlock()
	}
	return removed
}

// Snapshot produces a stable value-copy of every live flow.
func (t *Tracker) Snapshot() []FlowSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]FlowSnapshot, 0, t.tree.Len())
	t.tree.Ascend(func(f *Flow) bool {
		out = append(out, FlowSnapshot{
			Key:       f.Key,
			Protocol:  f.Protocol,
			NeedsLog:  f.NeedsLog,
			ExpiresAt: f.expiresAt.Load(),
			NatKind:   f.natKind,
			Nat:       f.nat,
		})
		return true
	})
	return out
}

// attachMetrics wires m into the tracker; called once by NewEngine.
func (t *Tracker) attachMetrics(m *Metrics) {
	t.metrics = m
}

// Len reports the number of live flows.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tree.Len()
}
