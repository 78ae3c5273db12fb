package pfwall

import "errors"

var (
	// ErrDropPacket wraps the underlying parse error when a hook stage
	// cannot extract a flow key from a malformed packet; the verdict is
	// always Drop alongside it.
	ErrDropPacket = errors.New("pfwall: packet dropped")

	// ErrNoSuchAnchor is returned by FilterChain.AddAfter when anchorName names
	// no existing rule.
	ErrNoSuchAnchor = errors.New("pfwall: no such anchor rule")

	// ErrInvalidRuleName is returned when a filter rule's name is empty-for-anchor-only,
	// exceeds MaxRuleNameLen, or is otherwise malformed.
	ErrInvalidRuleName = errors.New("pfwall: invalid rule name")

	// ErrInvalidPortRange is returned when a port range's min exceeds its max.
	ErrInvalidPortRange = errors.New("pfwall: invalid port range")

	// ErrNoSuchIndex is returned by NatChain.DeleteAt for an out-of-bounds or
	// negative index.
	ErrNoSuchIndex = errors.New("pfwall: no such rule index")

	// ErrNatPortExhausted is returned by Tracker.AllocateNATPort when a rule's
	// port pool has no free port; callers degrade to ACCEPT without NAT.
	ErrNatPortExhausted = errors.New("pfwall: nat port pool exhausted")
)
