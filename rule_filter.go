package pfwall

import (
	"strings"
	"sync"
)

// FilterRule is a named, ordered packet-filter rule (spec.md §3).
type FilterRule struct {
	Name string

	SrcNet, DstNet             Net
	SrcPortRange, DstPortRange PortRange
	Protocol                   uint8 // ProtocolAny, ProtocolTCP, ProtocolUDP, ProtocolICMP

	Action Verdict
	Log    bool
}

// validateName enforces spec.md §6.3 MaxRuleNameLen and rejects blank names,
// matching the malformed-input rejection class of spec.md §7.
func validateName(name string) error {
	if len(name) == 0 || len(name) > MaxRuleNameLen {
		return ErrInvalidRuleName
	}
	if strings.TrimSpace(name) == "" {
		return ErrInvalidRuleName
	}
	return nil
}

// Matches reports whether the rule applies to a packet with this 5-tuple.
// protocol=ProtocolAny on the packet never occurs on the wire; it is the
// rule's own Protocol field that may be ProtocolAny, meaning wildcard.
func (r *FilterRule) Matches(key FlowKey, protocol uint8) bool {
	if r.Protocol != ProtocolAny && r.Protocol != protocol {
		return false
	}
	if !r.SrcNet.Contains(key.SrcIP) || !r.DstNet.Contains(key.DstIP) {
		return false
	}
	if !r.SrcPortRange.Contains(key.SrcPort) || !r.DstPortRange.Contains(key.DstPort) {
		return false
	}
	return true
}

// FilterChain is the ordered, named filter-rule list (spec.md §4.2).
type FilterChain struct {
	mu            sync.RWMutex
	rules         []*FilterRule
	defaultAction Verdict

	tracker *Tracker
}

// NewFilterChain creates an empty chain with default_action = ACCEPT
// (spec.md §4.2), wired to tracker for the purge side-effects §4.2 requires.
func NewFilterChain(tracker *Tracker) *FilterChain {
	return &FilterChain{tracker: tracker, defaultAction: Accept}
}

// AddAfter inserts rule immediately after the first rule named anchorName.
// An empty anchorName inserts at the head. A non-empty, non-matching
// anchorName fails with ErrNoSuchAnchor and leaves the chain unmodified.
// If rule.Action is Drop, any cached flow the new rule would now block is
// purged immediately (spec.md §4.2), so no flow lingers past the new block.
func (c *FilterChain) AddAfter(anchorName string, rule *FilterRule) error {
	if err := validateName(rule.Name); err != nil {
		return err
	}

	c.mu.Lock()
	if anchorName == "" {
		c.rules = append([]*FilterRule{rule}, c.rules...)
	} else {
		idx := -1
		for i, r := range c.rules {
			if r.Name == anchorName {
				idx = i
				break
			}
		}
		if idx < 0 {
			c.mu.Unlock()
			return ErrNoSuchAnchor
		}
		c.rules = append(c.rules, nil)
		copy(c.rules[idx+2:], c.rules[idx+1:])
		c.rules[idx+1] = rule
	}
	c.mu.Unlock()

	if rule.Action == Drop && c.tracker != nil {
		c.tracker.PurgeMatching(rule.Matches)
	}
	return nil
}

// DeleteByName removes every rule named name, purging any cached flow each
// removed rule would have matched. Returns the count removed.
func (c *FilterChain) DeleteByName(name string) int {
	c.mu.Lock()
	var removed []*FilterRule
	kept := c.rules[:0:0]
	for _, r := range c.rules {
		if r.Name == name {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	c.rules = kept
	c.mu.Unlock()

	if c.tracker != nil {
		for _, r := range removed {
			c.tracker.PurgeMatching(r.Matches)
		}
	}
	return len(removed)
}

// MatchPacket returns the first rule matching key/protocol, first-match
// semantics (spec.md §4.2).
func (c *FilterChain) MatchPacket(key FlowKey, protocol uint8) (*FilterRule, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.rules {
		if r.Matches(key, protocol) {
			return r, true
		}
	}
	return nil, false
}

// Bootstrap replaces the chain's contents wholesale. Only meant to be
// called during engine construction, before any packet has been processed,
// so it skips the purge side-effects AddAfter/DeleteByName perform against
// a tracker that is necessarily still empty at that point.
func (c *FilterChain) Bootstrap(rules []*FilterRule) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules = rules
}

// Snapshot returns a value-copy of every rule, insertion order preserved.
func (c *FilterChain) Snapshot() []FilterRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]FilterRule, len(c.rules))
	for i, r := range c.rules {
		out[i] = *r
	}
	return out
}

// DefaultAction returns the verdict applied when no rule matches.
func (c *FilterChain) DefaultAction() Verdict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultAction
}

// SetDefaultAction changes the default verdict. Changing it to Drop
// invalidates every cached flow, since a flow accepted under the old
// default might now be one the engine would refuse to create (spec.md §4.2).
func (c *FilterChain) SetDefaultAction(v Verdict) {
	c.mu.Lock()
	c.defaultAction = v
	c.mu.Unlock()

	if v == Drop && c.tracker != nil {
		c.tracker.PurgeMatching(func(FlowKey, uint8) bool { return true })
	}
}
