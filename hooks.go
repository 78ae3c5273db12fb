package pfwall

import (
	"fmt"
	"log"
)

// extractKey pulls the 4-tuple and protocol from packet. ICMP (and any
// protocol without ports) reports 0 for both ports (spec.md §4.4.4).
func extractKey(packet []byte) (FlowKey, *IPv4Header, int, error) {
	ipHeader, err := ParseIPv4Header(packet)
	if err != nil {
		return FlowKey{}, nil, 0, err
	}
	headerLen := int(ipHeader.IHL) * 4

	key := FlowKey{SrcIP: ipHeader.SourceIP, DstIP: ipHeader.DestinationIP}
	switch ipHeader.Protocol {
	case ProtocolTCP:
		h, err := ParseTCPHeader(packet, headerLen)
		if err != nil {
			return FlowKey{}, nil, 0, err
		}
		key.SrcPort, key.DstPort = h.SourcePort, h.DestinationPort
	case ProtocolUDP:
		h, err := ParseUDPHeader(packet, headerLen)
		if err != nil {
			return FlowKey{}, nil, 0, err
		}
		key.SrcPort, key.DstPort = h.SourcePort, h.DestinationPort
	case ProtocolICMP:
		if _, err := ParseICMPHeader(packet, headerLen); err != nil {
			return FlowKey{}, nil, 0, err
		}
		// Ports stay 0: ICMP has no transport-layer rewrite (spec.md §4.4.4).
	}
	return key, ipHeader, headerLen, nil
}

func payloadLen(ipHeader *IPv4Header, headerLen int) int {
	total := int(ipHeader.TotalLength)
	if total < headerLen {
		return 0
	}
	return total - headerLen
}

// HookFilter is the ingress-filter / egress-filter stage (spec.md §4.4.1),
// registered at both pre-routing and post-routing hook points with
// identical logic.
func (e *Engine) HookFilter(packet []byte) (Verdict, error) {
	key, ipHeader, headerLen, err := extractKey(packet)
	if err != nil {
		return Drop, fmt.Errorf("%w: %v", ErrDropPacket, err)
	}

	if flow, ok := e.Tracker.Lookup(key); ok {
		if flow.NeedsLog {
			e.logVerdict(key, flow.Protocol, payloadLen(ipHeader, headerLen), Accept)
		}
		e.observe("filter", Accept)
		return Accept, nil
	}

	verdict := e.FilterChain.DefaultAction()
	needsLog := false
	if rule, ok := e.FilterChain.MatchPacket(key, ipHeader.Protocol); ok {
		verdict = rule.Action
		needsLog = rule.Log
	}
	if needsLog {
		e.logVerdict(key, ipHeader.Protocol, payloadLen(ipHeader, headerLen), verdict)
	}

	if verdict == Accept {
		e.Tracker.Insert(e.Tracker.NewFlow(key, ipHeader.Protocol, needsLog))
	}
	e.observe("filter", verdict)
	return verdict, nil
}

// HookNATIn is the ingress-DNAT stage (spec.md §4.4.2): it only rewrites
// traffic returning to a flow this engine already SNAT'd.
func (e *Engine) HookNATIn(packet []byte) (Verdict, error) {
	key, ipHeader, headerLen, err := extractKey(packet)
	if err != nil {
		return Drop, fmt.Errorf("%w: %v", ErrDropPacket, err)
	}

	flow, ok := e.Tracker.Lookup(key)
	if !ok {
		e.observe("nat_in", Accept)
		return Accept, nil
	}
	kind, record := e.Tracker.NatInfo(flow)
	if kind != DestinationNat {
		e.observe("nat_in", Accept)
		return Accept, nil
	}

	if err := rewriteAddr(packet, ipHeader, headerLen, false, record.TranslatedIP, record.TranslatedPort); err != nil {
		log.Printf("[hooks] nat_in: rewrite failed, accepting unrewritten: %v", err)
	}
	e.observe("nat_in", Accept)
	return Accept, nil
}

// HookNATOut is the egress-SNAT stage (spec.md §4.4.3): translates source
// address/port on egress and maintains the sibling DNAT flow that carries
// the reverse translation.
func (e *Engine) HookNATOut(packet []byte) (Verdict, error) {
	key, ipHeader, headerLen, err := extractKey(packet)
	if err != nil {
		return Drop, fmt.Errorf("%w: %v", ErrDropPacket, err)
	}

	flow, ok := e.Tracker.Lookup(key)
	if !ok {
		// The filter stage is responsible for creating flows; a packet
		// never accepted there must not be NATed here.
		e.observe("nat_out", Accept)
		return Accept, nil
	}

	kind, record := e.Tracker.NatInfo(flow)
	if kind != SourceNat {
		rule, matched := e.NatChain.MatchSrc(key.SrcIP)
		if !matched {
			e.observe("nat_out", Accept)
			return Accept, nil
		}

		newPort := uint16(0)
		if key.SrcPort != 0 {
			p, err := e.Tracker.AllocateNATPort(rule)
			if err != nil {
				// Fail-open for NAT only; filter verdict already ACCEPT.
				log.Printf("[hooks] nat_out: %v", err)
				e.observe("nat_out", Accept)
				return Accept, nil
			}
			newPort = p
		}
		record = NatRecord{
			OriginalIP:     key.SrcIP,
			OriginalPort:   key.SrcPort,
			TranslatedIP:   rule.NatIP,
			TranslatedPort: newPort,
		}
		e.Tracker.SetNat(flow, record, SourceNat)
	}

	siblingKey := FlowKey{
		SrcIP: key.DstIP, DstIP: record.TranslatedIP,
		SrcPort: key.DstPort, DstPort: record.TranslatedPort,
	}
	siblingRecord := NatRecord{
		OriginalIP: record.TranslatedIP, OriginalPort: record.TranslatedPort,
		TranslatedIP: key.SrcIP, TranslatedPort: key.SrcPort,
	}
	sibling := e.Tracker.Insert(e.Tracker.NewFlow(siblingKey, flow.Protocol, false))
	if existingKind, existingRecord := e.Tracker.NatInfo(sibling); existingKind == NatNone {
		if !e.Tracker.SetNat(sibling, siblingRecord, DestinationNat) {
			e.observe("nat_out", Accept)
			return Accept, nil
		}
	} else if existingRecord != siblingRecord {
		// Port collision with a pre-existing, differently-translated
		// sibling: treat as inconsistent and skip NAT rather than
		// corrupt either flow's translation (spec.md §4.4.4).
		e.observe("nat_out", Accept)
		return Accept, nil
	}

	e.Tracker.ExtendExpiry(flow, connNATExpiresSeconds)
	e.Tracker.ExtendExpiry(sibling, connNATExpiresSeconds)

	if err := rewriteAddr(packet, ipHeader, headerLen, true, record.TranslatedIP, record.TranslatedPort); err != nil {
		log.Printf("[hooks] nat_out: rewrite failed, accepting unrewritten: %v", err)
	}
	e.observe("nat_out", Accept)
	return Accept, nil
}

func (e *Engine) logVerdict(key FlowKey, protocol uint8, length int, verdict Verdict) {
	e.LogBuffer.Append(LogRecord{
		Timestamp:  e.now(),
		Key:        key,
		Protocol:   protocol,
		PayloadLen: length,
		Verdict:    verdict,
	})
}

func (e *Engine) observe(hook string, v Verdict) {
	if e.Metrics == nil {
		return
	}
	e.Metrics.Verdicts.WithLabelValues(hook, v.String()).Inc()
}
