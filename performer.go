package perfharness

// Performer is the external collaborator this harness wraps: a compiled
// audio DSP instance. The harness never constructs frames, events or
// values on its own behalf; it only shuttles bytes the Coercer produced
// (or MIDI it packed itself, see midi.go) into these calls, and drains
// whatever the performer produced back out.
//
// Implementations are supplied by the caller (typically a cgo binding
// into a compiled DSP engine). None is provided here: the DSP engine
// itself, its program loading and its crash recovery are all explicitly
// out of scope for this package.
type Performer interface {
	// SetBlockSize configures the number of frames the next advance()
	// call will process. Called once per (sub-)block, before any input
	// is injected.
	SetBlockSize(frames int) error

	// GetMaximumBlockSize reports the largest frame count the performer
	// will accept in one advance(). The harness clamps this further to
	// MaxFramesPerBlock.
	GetMaximumBlockSize() int

	// GetEventBufferSize reports the per-block capacity the performer
	// reserves for outbound MIDI/event messages on a single endpoint.
	// The harness uses it only to size its own MIDI scratch vector.
	GetEventBufferSize() int

	// SetInputFrames hands the performer an interleaved block of input
	// samples for the stream endpoint named by handle. ptr points at
	// channels*frames scalar elements of the endpoint's element type.
	SetInputFrames(handle EndpointHandle, ptr []byte, frames int) error

	// SetInputValue applies a ramped value to a value endpoint: bytes
	// is the coerced target value, rampFrames the number of frames over
	// which the performer should interpolate toward it.
	SetInputValue(handle EndpointHandle, bytes []byte, rampFrames int) error

	// AddInputEvent posts one event to an event or MIDI-in endpoint.
	// typeIndex is the Coercer-assigned type of bytes; for MIDI-in
	// posts typeIndex is always 0 and bytes is the packed 24-bit MIDI
	// word described in midi.go, zero-extended to 4 bytes, native
	// endianness.
	AddInputEvent(handle EndpointHandle, typeIndex DataType, bytes []byte) error

	// Advance runs one block of DSP. Every other call in this interface
	// is only meaningful bracketed around a single Advance call for a
	// given sub-block.
	Advance() error

	// CopyOutputFrames drains an interleaved block of output samples
	// from the stream endpoint named by handle into dest, which must be
	// sized for at least channels*frames scalar elements.
	CopyOutputFrames(handle EndpointHandle, dest []byte, frames int) error

	// CopyOutputChannel drains a single channel of a stream endpoint's
	// output into dest, sized for at least frames scalar elements.
	CopyOutputChannel(handle EndpointHandle, channel int, dest []byte, frames int) error

	// IterateOutputEvents calls visit once per event emitted by the
	// named endpoint during the block just advanced, in emission order.
	// visit receives the type index, the frame offset within the block
	// the event occurred at, and its raw bytes; it returns false to stop
	// iteration early.
	IterateOutputEvents(handle EndpointHandle, visit func(typeIndex DataType, frameOffset int, bytes []byte) bool) error
}
