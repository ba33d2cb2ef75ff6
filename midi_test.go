package perfharness

import "testing"

func TestPackUnpackShortMessageRoundTrip(t *testing.T) {
	cases := []ShortMessage{
		{0x90, 60, 100},
		{0x80, 60, 0},
		{0xB0, 7, 127},
		{0x00, 0, 0},
		{0xFF, 0xFF, 0xFF},
	}
	for _, m := range cases {
		packed := PackShortMessage(m)
		got := UnpackShortMessage(packed)
		if got != m {
			t.Fatalf("round trip: got %v, want %v", got, m)
		}
	}
}

func TestPackShortMessageLayout(t *testing.T) {
	m := ShortMessage{0x90, 0x3C, 0x64}
	got := PackShortMessage(m)
	want := uint32(0x90)<<16 | uint32(0x3C)<<8 | uint32(0x64)
	if got != want {
		t.Fatalf("got %#x, want %#x", got, want)
	}
}

func TestPackedMIDIBytesRoundTrip(t *testing.T) {
	packed := PackShortMessage(ShortMessage{0x91, 10, 20})
	b := packedMIDIBytes(packed)
	if len(b) != 4 {
		t.Fatalf("want 4 bytes, got %d", len(b))
	}
	if got := packedMIDIFromBytes(b); got != packed {
		t.Fatalf("got %#x, want %#x", got, packed)
	}
}

func TestShortMessageFromNoteOn(t *testing.T) {
	m := ShortMessageFromNoteOn(1, 64, 100)
	if m[1] != 64 || m[2] != 100 {
		t.Fatalf("got %v, want data bytes 64,100", m)
	}
	if m[0]&0xF0 != 0x90 {
		t.Fatalf("got status %#x, want note-on family", m[0])
	}
}

func TestShortMessageFromNoteOff(t *testing.T) {
	m := ShortMessageFromNoteOff(1, 64)
	if m[1] != 64 {
		t.Fatalf("got key %d, want 64", m[1])
	}
}

func TestShortMessageFromControlChange(t *testing.T) {
	m := ShortMessageFromControlChange(2, 7, 127)
	if m[1] != 7 || m[2] != 127 {
		t.Fatalf("got %v, want controller=7 value=127", m)
	}
	if m[0]&0xF0 != 0xB0 {
		t.Fatalf("got status %#x, want control-change family", m[0])
	}
}
