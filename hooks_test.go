package pfwall

import (
	"context"
	"errors"
	"testing"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { e.Stop(context.Background()) })
	return e
}

func TestHookFilterDefaultAccept(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	packet := buildUDPPacket(IPv4{10, 0, 0, 1}, IPv4{8, 8, 8, 8}, 5000, 53, []byte("q"))

	verdict, err := e.HookFilter(packet)
	if err != nil {
		t.Fatalf("HookFilter: %v", err)
	}
	if verdict != Accept {
		t.Errorf("expected ACCEPT by default, got %v", verdict)
	}
	if e.Tracker.Len() != 1 {
		t.Errorf("expected flow tracked after accept, got %d", e.Tracker.Len())
	}
}

func TestHookFilterMalformedPacketDrops(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	verdict, err := e.HookFilter([]byte{0x45})
	if verdict != Drop {
		t.Errorf("expected DROP for an unparseable packet, got %v", verdict)
	}
	if !errors.Is(err, ErrDropPacket) {
		t.Errorf("expected ErrDropPacket, got %v", err)
	}
}

func TestHookFilterDropRule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilterRules = []ConfigFilterRule{
		{Name: "no-ssh", DstPorts: "22", Protocol: "tcp", Action: "drop"},
	}
	e := newTestEngine(t, cfg)
	packet := buildTCPPacket(IPv4{10, 0, 0, 1}, IPv4{1, 1, 1, 1}, 45000, 22, 0x02)

	verdict, err := e.HookFilter(packet)
	if err != nil {
		t.Fatalf("HookFilter: %v", err)
	}
	if verdict != Drop {
		t.Errorf("expected DROP, got %v", verdict)
	}
	if e.Tracker.Len() != 0 {
		t.Error("a dropped packet must not create a tracked flow")
	}
}

func TestHookFilterDropRulePurgesCachedFlow(t *testing.T) {
	cfg := DefaultConfig()
	e := newTestEngine(t, cfg)
	packet := buildUDPPacket(IPv4{10, 0, 0, 1}, IPv4{8, 8, 8, 8}, 5000, 53, []byte("q"))

	if _, err := e.HookFilter(packet); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// Now add a DROP rule that would match this 5-tuple; the cached flow
	// should already have purged on AddAfter, so a second packet on the
	// exact same 5-tuple still hits the rule scan.
	drop := FilterRule{Name: "block", SrcNet: AnyNet, DstNet: AnyNet, SrcPortRange: AnyPortRange, DstPortRange: AnyPortRange, Protocol: ProtocolUDP, Action: Drop}
	if err := e.FilterChain.AddAfter("", &drop); err != nil {
		t.Fatalf("AddAfter: %v", err)
	}

	verdict, err := e.HookFilter(packet)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if verdict != Drop {
		t.Errorf("expected the new DROP rule to apply after the flow was purged, got %v", verdict)
	}
}

func TestHookNATOutAndNATInRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NatRules = []ConfigNatRule{
		{SrcNet: "10.0.0.0/24", NatIP: "203.0.113.9", PortPool: "40000-40099"},
	}
	e := newTestEngine(t, cfg)

	localIP := IPv4{10, 0, 0, 5}
	remoteIP := IPv4{8, 8, 8, 8}
	packet := buildUDPPacket(localIP, remoteIP, 5000, 53, []byte("query"))

	if _, err := e.HookFilter(packet); err != nil {
		t.Fatalf("HookFilter: %v", err)
	}
	if _, err := e.HookNATOut(packet); err != nil {
		t.Fatalf("HookNATOut: %v", err)
	}

	ipHeader, err := ParseIPv4Header(packet)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ipHeader.SourceIP.Equal(IPv4{203, 0, 113, 9}) {
		t.Fatalf("expected source rewritten to NAT IP, got %v", ipHeader.SourceIP)
	}
	udpHeader, err := ParseUDPHeader(packet, 20)
	if err != nil {
		t.Fatalf("parse udp: %v", err)
	}
	natPort := udpHeader.SourcePort
	if natPort < 40000 || natPort > 40099 {
		t.Fatalf("NAT port %d outside configured pool", natPort)
	}

	reply := buildUDPPacket(remoteIP, IPv4{203, 0, 113, 9}, 53, natPort, []byte("response"))
	verdict, err := e.HookNATIn(reply)
	if err != nil {
		t.Fatalf("HookNATIn: %v", err)
	}
	if verdict != Accept {
		t.Fatalf("expected ACCEPT, got %v", verdict)
	}

	replyHeader, err := ParseIPv4Header(reply)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if !replyHeader.DestinationIP.Equal(localIP) {
		t.Errorf("expected destination restored to %v, got %v", localIP, replyHeader.DestinationIP)
	}
	replyUDP, err := ParseUDPHeader(reply, 20)
	if err != nil {
		t.Fatalf("parse reply udp: %v", err)
	}
	if replyUDP.DestinationPort != 5000 {
		t.Errorf("expected destination port restored to 5000, got %d", replyUDP.DestinationPort)
	}
}

func TestHookNATInWithoutPriorNATPassesThrough(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	packet := buildUDPPacket(IPv4{8, 8, 8, 8}, IPv4{10, 0, 0, 5}, 53, 5000, []byte("unexpected"))

	verdict, err := e.HookNATIn(packet)
	if err != nil {
		t.Fatalf("HookNATIn: %v", err)
	}
	if verdict != Accept {
		t.Errorf("expected pass-through ACCEPT, got %v", verdict)
	}
}
