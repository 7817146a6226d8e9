package netreplica

// ---------------------------------------------------------------------------
// Tuning constants
//
// These are the defaults a Peer uses unless overridden by an Options value
// passed at construction. They are hard-coded starting points, not
// discovered from measurement; adjust them if a deployment's link quality
// or host-count profile differs from the defaults' assumptions.
// ---------------------------------------------------------------------------

const (
	// DefaultDisconnectGraceMs is how long a link lingers in LinkDisconnected
	// before TickDisconnects tears it down, giving a final flush of queued
	// reliable sends time to land.
	DefaultDisconnectGraceMs int64 = 2000

	// DefaultPingIntervalMs is how often PingManager resends a pending
	// ping that has not yet timed out.
	DefaultPingIntervalMs int64 = 200

	// DefaultChannelNapThreshold is the default for
	// Options.ChannelNapThreshold. Channel napping itself counts idle ticks
	// against ChannelPolicy.AwakeDuration (30 in DefaultChannelPolicy), for
	// Automatic and Manumatic channels alike.
	DefaultChannelNapThreshold = 10

	// DefaultDeltaThreshold is the default for Options.DeltaThreshold.
	// Property.ValuesEqual compares a delta threshold as an absolute
	// per-component difference, not as a fraction of the quantized range.
	DefaultDeltaThreshold = 0.01

	// DefaultSameIPHostRecordCap bounds how many host records the master
	// registry holds per IP, preventing a single machine from exhausting
	// registry slots across many processes/ports.
	DefaultSameIPHostRecordCap = DefaultSameIPHostRecordLimit

	// DefaultMaxMessageSize is the default for Options.MaxMessageSize, a
	// single wire message's encoded length. The send paths do not check
	// messages against it or split larger ones.
	DefaultMaxMessageSize = 1200

	// DefaultPortRetries is how many additional ports Open tries after
	// its requested port is unavailable.
	DefaultPortRetries = 8
)

// Options collects the tunables a host application may override when
// opening a Peer. Zero values fall back to the Default* constants.
type Options struct {
	DisconnectGraceMs    int64
	PingIntervalMs       int64
	ChannelNapThreshold  int
	DeltaThreshold       float64
	SameIPHostRecordCap  int
	HostRecordLifetimeMs int64
	MaxMessageSize        int
	PortRetries          int
}

// WithDefaults returns a copy of o with every zero field replaced by its
// package default.
func (o Options) WithDefaults() Options {
	if o.DisconnectGraceMs == 0 {
		o.DisconnectGraceMs = DefaultDisconnectGraceMs
	}
	if o.PingIntervalMs == 0 {
		o.PingIntervalMs = DefaultPingIntervalMs
	}
	if o.ChannelNapThreshold == 0 {
		o.ChannelNapThreshold = DefaultChannelNapThreshold
	}
	if o.DeltaThreshold == 0 {
		o.DeltaThreshold = DefaultDeltaThreshold
	}
	if o.SameIPHostRecordCap == 0 {
		o.SameIPHostRecordCap = DefaultSameIPHostRecordCap
	}
	if o.HostRecordLifetimeMs == 0 {
		o.HostRecordLifetimeMs = DefaultHostRecordLifetimeMs
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = DefaultMaxMessageSize
	}
	if o.PortRetries == 0 {
		o.PortRetries = DefaultPortRetries
	}
	return o
}
