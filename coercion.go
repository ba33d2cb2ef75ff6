package perfharness

// CoercedValue is the result of successfully converting a generic value
// to the exact binary layout an endpoint accepts.
type CoercedValue struct {
	TypeIndex DataType
	Bytes     []byte
}

// Coercer is the external collaborator that knows how to translate a
// generic Go value into the exact binary form a given endpoint requires,
// and back again for outbound data. Its implementation is specific to the
// wrapped performer's type system and is out of scope for this package;
// the harness only calls it at the two points spec.md names.
type Coercer interface {
	// InitialiseDictionary (re-)builds the coercer's handle->type dictionary from
	// a freshly created performer. Called once per prepareToStart.
	InitialiseDictionary(p Performer) error

	// CoerceValueToMatchingType converts value to the binary form
	// required by handle's event acceptance list, returning the type
	// index the performer should be told about. ok is false if value
	// coerces to none of the endpoint's accepted types.
	CoerceValueToMatchingType(handle EndpointHandle, value interface{}) (result CoercedValue, ok bool)

	// CoerceValue converts value to the sole binary form a value
	// endpoint accepts. ok is false on failure.
	CoerceValue(handle EndpointHandle, value interface{}) (bytes []byte, ok bool)

	// ViewForOutputData returns a value view over bytes, typed as
	// typeIndex, suitable for handing to a user's outbound event
	// callback.
	ViewForOutputData(handle EndpointHandle, typeIndex DataType, bytes []byte) (view interface{}, ok bool)
}
