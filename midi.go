package perfharness

import (
	"encoding/binary"

	"gitlab.com/gomidi/midi/v2"
)

// ShortMessage is a 3-byte MIDI channel message (status, data1, data2),
// the only shape the wire packing in spec.md §6 supports. Messages that
// don't fit this shape (sysex, anything longer) are not representable on
// the MIDI endpoints this harness wires and must be filtered out by the
// caller before they reach the host's input block.
type ShortMessage [3]byte

// PackShortMessage encodes a 3-byte short message as the packed 24-bit
// word spec.md's "MIDI packing" section defines: (b0<<16)|(b1<<8)|b2,
// zero-extended to 32 bits. packedMIDIBytes writes the result
// native-endianness into a 4-byte buffer, matching every other queue
// record in this package.
func PackShortMessage(m ShortMessage) uint32 {
	return uint32(m[0])<<16 | uint32(m[1])<<8 | uint32(m[2])
}

// UnpackShortMessage reverses PackShortMessage.
func UnpackShortMessage(packed uint32) ShortMessage {
	return ShortMessage{
		byte(packed >> 16),
		byte(packed >> 8),
		byte(packed),
	}
}

// packedMIDIBytes renders a packed word as the 4-byte native-endianness
// payload AddInputEvent expects for a MIDI-in post.
func packedMIDIBytes(packed uint32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, packed)
	return b
}

func packedMIDIFromBytes(b []byte) uint32 {
	return binary.NativeEndian.Uint32(b)
}

// ToGoMIDIMessage renders a short message as a gomidi/midi/v2 Message,
// for diagnostics, logging and tests: it is far more legible to print
// midi.Message's stringer than to decode three raw status/data bytes by
// hand.
func ToGoMIDIMessage(m ShortMessage) midi.Message {
	return midi.Message(m[:])
}

// ShortMessageFromNoteOn builds the packed short message for a MIDI
// note-on, using the gomidi/midi/v2 constructor so the status-byte
// nibble packing (channel in the low nibble, velocity-zero-means-note-off
// convention) stays in one place shared with everything else that builds
// symbolic MIDI.
func ShortMessageFromNoteOn(channel, key, velocity uint8) ShortMessage {
	return shortMessageFromGoMIDI(midi.NoteOn(channel, key, velocity))
}

// ShortMessageFromNoteOff builds the packed short message for a MIDI
// note-off.
func ShortMessageFromNoteOff(channel, key uint8) ShortMessage {
	return shortMessageFromGoMIDI(midi.NoteOff(channel, key))
}

// ShortMessageFromControlChange builds the packed short message for a
// MIDI control-change.
func ShortMessageFromControlChange(channel, controller, value uint8) ShortMessage {
	return shortMessageFromGoMIDI(midi.ControlChange(channel, controller, value))
}

func shortMessageFromGoMIDI(m midi.Message) ShortMessage {
	var out ShortMessage
	raw := m.Bytes()
	for i := 0; i < 3 && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}
