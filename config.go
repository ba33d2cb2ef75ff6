package perfharness

// LatencyHint is a coarse preference for how much headroom the control-
// thread queues get, mirroring the teacher's LatencyClass ->
// buffer-size-hint pattern. It never changes per-block processing
// semantics: currentMaxBlockSize is still derived solely from
// spec.md §3's invariant (min(MaxFramesPerBlock,
// performer.GetMaximumBlockSize())), clamped further by an explicit
// HarnessConfig.MaxBlockSize if one is given.
type LatencyHint int

// LatencyMedium is the zero value, so an unset HarnessConfig.LatencyHint
// means medium.
const (
	LatencyMedium LatencyHint = iota
	LatencyLow
	LatencyHigh
)

// queueCapacity maps a LatencyHint to a default SPSC queue capacity in
// bytes, the same "explicit value wins, otherwise map the hint" shape
// the teacher's session.AudioSpec/spec.Resolve uses for buffer sizing.
func (h LatencyHint) queueCapacity() int {
	switch h {
	case LatencyLow:
		return 4096
	case LatencyHigh:
		return 65536
	default:
		return 16384
	}
}

// HarnessConfig configures a Harness at construction time.
type HarnessConfig struct {
	// ErrorHandler receives every diagnostic process() would otherwise
	// have to let escape as a panic. Defaults to DefaultErrorHandler.
	ErrorHandler ErrorHandler

	// Coercer is the external value-coercion collaborator. Required.
	Coercer Coercer

	// LatencyHint sizes the event/value/outbound queues when
	// EventQueueCapacity/ValueQueueCapacity/OutputQueueCapacity are left
	// at zero. Defaults to LatencyMedium.
	LatencyHint LatencyHint

	// EventQueueCapacity, ValueQueueCapacity and OutputQueueCapacity
	// override LatencyHint's mapping for the corresponding SPSC queue,
	// in bytes, when > 0.
	EventQueueCapacity  int
	ValueQueueCapacity  int
	OutputQueueCapacity int

	// MaxBlockSize, when > 0, further clamps currentMaxBlockSize below
	// whatever the performer itself reports and below
	// MaxFramesPerBlock.
	MaxBlockSize int
}

func (c HarnessConfig) eventCapacity() int {
	if c.EventQueueCapacity > 0 {
		return c.EventQueueCapacity
	}
	return c.LatencyHint.queueCapacity()
}

func (c HarnessConfig) valueCapacity() int {
	if c.ValueQueueCapacity > 0 {
		return c.ValueQueueCapacity
	}
	return c.LatencyHint.queueCapacity()
}

func (c HarnessConfig) outputCapacity() int {
	if c.OutputQueueCapacity > 0 {
		return c.OutputQueueCapacity
	}
	return c.LatencyHint.queueCapacity()
}
