package pfwall

import "time"

// Normative constants, spec.md §6.3.
const (
	// MaxRuleNameLen is the maximum length, in bytes, of a FilterRule name.
	MaxRuleNameLen = 11

	// MaxLogLen is the maximum number of records the log buffer retains.
	MaxLogLen = 1000

	// ConnExpires is how long a non-NAT flow survives after its last touch.
	ConnExpires = 7 * time.Second

	// ConnNATTimes multiplies ConnExpires to produce the NAT flow timeout.
	ConnNATTimes = 10

	// ConnRollInterval is the period of the background expiry sweep.
	ConnRollInterval = 5 * time.Second

	// MaxPayload bounds the IPv4 packet buffers this engine will process.
	MaxPayload = 262144
)

// connExpiresSeconds and connNATExpiresSeconds are ConnExpires/the NAT
// timeout expressed in the host-clock-tick unit the tracker's Now function
// returns (Unix seconds, by default).
const (
	connExpiresSeconds    = int64(ConnExpires / time.Second)
	connNATExpiresSeconds = connExpiresSeconds * ConnNATTimes
)
