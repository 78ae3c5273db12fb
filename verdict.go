package pfwall

// Verdict is the decision a hook stage or filter rule renders for a packet.
type Verdict uint8

const (
	// Accept forwards the packet.
	Accept Verdict = iota
	// Drop discards the packet.
	Drop
)

// String renders the verdict the way log output and status strings do.
func (v Verdict) String() string {
	if v == Drop {
		return "DROP"
	}
	return "ACCEPT"
}
