package perfharness

import "encoding/binary"

// Queue record layouts, all native-endianness and packed exactly as
// spec.md §6 names them. handleSize is the fixed encoded width of an
// EndpointHandle.
const handleSize = 8

func encodeHandle(b []byte, h EndpointHandle) {
	binary.NativeEndian.PutUint64(b, uint64(h))
}

func decodeHandle(b []byte) EndpointHandle {
	return EndpointHandle(binary.NativeEndian.Uint64(b))
}

// eventInRecordSize returns the total encoded size of an "event in"
// record body (handle | typeIndex | bytes).
func eventInRecordSize(payload int) int {
	return handleSize + 4 + payload
}

func encodeEventIn(dest []byte, handle EndpointHandle, typeIndex DataType, payload []byte) {
	encodeHandle(dest, handle)
	binary.NativeEndian.PutUint32(dest[handleSize:], uint32(typeIndex))
	copy(dest[handleSize+4:], payload)
}

func decodeEventIn(rec []byte) (handle EndpointHandle, typeIndex DataType, payload []byte) {
	handle = decodeHandle(rec)
	typeIndex = DataType(binary.NativeEndian.Uint32(rec[handleSize:]))
	payload = rec[handleSize+4:]
	return
}

// valueInRecordSize returns the total encoded size of a "value in"
// record body (handle | rampFrames | bytes).
func valueInRecordSize(payload int) int {
	return handleSize + 4 + payload
}

func encodeValueIn(dest []byte, handle EndpointHandle, rampFrames int, payload []byte) {
	encodeHandle(dest, handle)
	binary.NativeEndian.PutUint32(dest[handleSize:], uint32(rampFrames))
	copy(dest[handleSize+4:], payload)
}

func decodeValueIn(rec []byte) (handle EndpointHandle, rampFrames int, payload []byte) {
	handle = decodeHandle(rec)
	rampFrames = int(binary.NativeEndian.Uint32(rec[handleSize:]))
	payload = rec[handleSize+4:]
	return
}

// eventOutRecordSize returns the total encoded size of an "event out"
// record body (handle | typeIndex | absoluteFrame | bytes).
func eventOutRecordSize(payload int) int {
	return handleSize + 4 + 8 + payload
}

func encodeEventOut(dest []byte, handle EndpointHandle, typeIndex DataType, absoluteFrame uint64, payload []byte) {
	encodeHandle(dest, handle)
	binary.NativeEndian.PutUint32(dest[handleSize:], uint32(typeIndex))
	binary.NativeEndian.PutUint64(dest[handleSize+4:], absoluteFrame)
	copy(dest[handleSize+12:], payload)
}

func decodeEventOut(rec []byte) (handle EndpointHandle, typeIndex DataType, absoluteFrame uint64, payload []byte) {
	handle = decodeHandle(rec)
	typeIndex = DataType(binary.NativeEndian.Uint32(rec[handleSize:]))
	absoluteFrame = binary.NativeEndian.Uint64(rec[handleSize+4:])
	payload = rec[handleSize+12:]
	return
}
