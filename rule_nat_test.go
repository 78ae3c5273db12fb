package pfwall

import "testing"

func TestNatChainMatchSrc(t *testing.T) {
	c := NewNatChain()
	srcNet, _ := ParseNet("10.0.0.0/24")
	rule := &NatRule{SrcNet: srcNet, NatIP: IPv4{203, 0, 113, 1}, PortPool: PortRange{Lo: 40000, Hi: 40099}}
	c.Append(rule)

	matched, ok := c.MatchSrc(IPv4{10, 0, 0, 5})
	if !ok || matched != rule {
		t.Fatal("expected to match the appended rule")
	}

	if _, ok := c.MatchSrc(IPv4{192, 168, 1, 1}); ok {
		t.Error("expected no match outside SrcNet")
	}
}

func TestNatChainDeleteAt(t *testing.T) {
	c := NewNatChain()
	c.Append(&NatRule{SrcNet: AnyNet, NatIP: IPv4{1, 1, 1, 1}, PortPool: AnyPortRange})
	c.Append(&NatRule{SrcNet: AnyNet, NatIP: IPv4{2, 2, 2, 2}, PortPool: AnyPortRange})

	n, err := c.DeleteAt(0)
	if err != nil || n != 1 {
		t.Fatalf("got n=%d err=%v", n, err)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining rule, got %d", c.Len())
	}
	remaining := c.Snapshot()
	if remaining[0].NatIP != (IPv4{2, 2, 2, 2}) {
		t.Errorf("wrong rule remained: %+v", &remaining[0])
	}
}

func TestNatChainDeleteAtOutOfRange(t *testing.T) {
	c := NewNatChain()
	c.Append(&NatRule{SrcNet: AnyNet, NatIP: IPv4{1, 1, 1, 1}, PortPool: AnyPortRange})

	if _, err := c.DeleteAt(-1); err != ErrNoSuchIndex {
		t.Errorf("expected ErrNoSuchIndex for negative index, got %v", err)
	}
	if _, err := c.DeleteAt(5); err != ErrNoSuchIndex {
		t.Errorf("expected ErrNoSuchIndex for out-of-range index, got %v", err)
	}
}

func TestNatChainSnapshotCopiesCursor(t *testing.T) {
	c := NewNatChain()
	rule := &NatRule{SrcNet: AnyNet, NatIP: IPv4{1, 1, 1, 1}, PortPool: PortRange{Lo: 100, Hi: 200}}
	rule.storeCursor(150)
	c.Append(rule)

	snap := c.Snapshot()
	if snap[0].loadCursor() != 150 {
		t.Errorf("expected cursor copied, got %d", snap[0].loadCursor())
	}

	rule.storeCursor(199)
	if snap[0].loadCursor() != 150 {
		t.Error("snapshot should be an independent copy, not alias the live rule")
	}
}
