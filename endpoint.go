package perfharness

// EndpointHandle names an endpoint by an opaque integer, stable for the
// performer's lifetime. The performer adapter hands these out; the
// harness never interprets the bits.
type EndpointHandle uint64

// EndpointID names an endpoint by its textual identifier, used for
// name-based posts and for reporting outbound events to listeners.
type EndpointID string

// EndpointKind classifies what an endpoint carries.
type EndpointKind int

const (
	EndpointStream EndpointKind = iota
	EndpointEvent
	EndpointValue
	EndpointMIDIIn
	EndpointMIDIOut
)

func (k EndpointKind) String() string {
	switch k {
	case EndpointStream:
		return "stream"
	case EndpointEvent:
		return "event"
	case EndpointValue:
		return "value"
	case EndpointMIDIIn:
		return "midi-in"
	case EndpointMIDIOut:
		return "midi-out"
	default:
		return "unknown"
	}
}

// ElementType names the binary element type an endpoint's stream carries.
// Streams are always a scalar-or-vector float type; the vector width is
// the endpoint's channel count.
type ElementType int

const (
	ElementFloat32 ElementType = iota
	ElementFloat64
)

// Size returns the size in bytes of a single scalar element.
func (t ElementType) Size() int {
	switch t {
	case ElementFloat64:
		return 8
	default:
		return 4
	}
}

// Direction distinguishes an input endpoint (the host feeds it) from an
// output endpoint (the performer produces it). Only meaningful for
// stream and event kinds; value endpoints are always driven from the
// control thread and MIDI direction is already encoded in EndpointKind.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Endpoint describes one named port exposed by a Performer.
type Endpoint struct {
	ID        EndpointID
	Handle    EndpointHandle
	Kind      EndpointKind
	Direction Direction
	DataTypes []DataType

	// Channels is the vector width for stream endpoints; 1 for a scalar
	// stream, meaningless for event/value/MIDI endpoints.
	Channels int

	// Element is the stream's scalar element type; meaningless for
	// non-stream endpoints.
	Element ElementType
}

// DataType is an opaque type index understood by the Coercer and by the
// performer's addInputEvent/setInputValue overloads. Its concrete meaning
// is defined by the wrapped performer; the harness only ever passes it
// through.
type DataType int

// MaxFramesPerBlock is the hard ceiling on sub-block size the harness will
// ever hand to a performer, regardless of what the performer itself
// reports as its maximum. It bounds the interleaving scratch buffer.
const MaxFramesPerBlock = 512
