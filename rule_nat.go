package pfwall

import (
	"sync"
	"sync/atomic"
)

// NatRule is an ordered, numbered SNAT rule (spec.md §4.3).
type NatRule struct {
	SrcNet   Net
	NatIP    IPv4
	PortPool PortRange

	cursor atomic.Uint32 // next port search hint, spec.md §3 "cursor"
}

func (r *NatRule) loadCursor() uint16 {
	return uint16(r.cursor.Load())
}

func (r *NatRule) storeCursor(port uint16) {
	r.cursor.Store(uint32(port))
}

// NatChain is the ordered list of NAT rules scanned on egress (spec.md §4.3).
type NatChain struct {
	mu    sync.RWMutex
	rules []*NatRule
}

// NewNatChain creates an empty NAT-rule chain.
func NewNatChain() *NatChain {
	return &NatChain{}
}

// Append adds rule at the tail of the chain.
func (c *NatChain) Append(rule *NatRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = append(c.rules, rule)
}

// DeleteAt removes the rule at 0-based index. Returns an error for an
// out-of-bounds index; negative indices are expected to be rejected by the
// control-plane layer before reaching here (spec.md §4.3), but are handled
// safely regardless.
func (c *NatChain) DeleteAt(index int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.rules) {
		return 0, ErrNoSuchIndex
	}
	c.rules = append(c.rules[:index], c.rules[index+1:]...)
	return 1, nil
}

// Bootstrap replaces the chain's contents wholesale; meant only for engine
// construction, before any packet has been processed.
func (c *NatChain) Bootstrap(rules []*NatRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
}

// MatchSrc returns the first rule whose SrcNet contains srcIP. Destination
// IP is never considered (spec.md §4.3).
func (c *NatChain) MatchSrc(srcIP IPv4) (*NatRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.SrcNet.Contains(srcIP) {
			return r, true
		}
	}
	return nil, false
}

// Snapshot returns a value-copy of every rule, insertion order preserved.
func (c *NatChain) Snapshot() []NatRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]NatRule, len(c.rules))
	for i, r := range c.rules {
		out[i] = NatRule{SrcNet: r.SrcNet, NatIP: r.NatIP, PortPool: r.PortPool}
		out[i].cursor.Store(r.cursor.Load())
	}
	return out
}

// Len reports the number of rules in the chain.
func (c *NatChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rules)
}
