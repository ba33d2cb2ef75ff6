package perfharness

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// fakePerformer is a small, fully in-memory stand-in for the external
// Performer collaborator, configurable enough to drive spec.md §8's
// scenarios without needing a real DSP.
type fakePerformer struct {
	maxBlockSize    int
	blockSizeCalls  []int
	addInputEvents  []addInputEventCall
	inputValues     map[EndpointHandle][]byte

	// outputConstant[handle] is copied, one value per channel, into
	// every frame CopyOutputFrames/CopyOutputChannel is asked to fill.
	outputConstant map[EndpointHandle][]float32
	outputChannels map[EndpointHandle]int

	// outboundEvents[handle] is drained (and cleared) by
	// IterateOutputEvents, used for both event-output endpoints and
	// MIDI-output endpoints (MIDI payloads are just 4-byte packed
	// words, same as any other event payload).
	outboundEvents map[EndpointHandle][]fakeOutboundEvent
}

type addInputEventCall struct {
	handle    EndpointHandle
	typeIndex DataType
	bytes     []byte
	callIndex int
}

type fakeOutboundEvent struct {
	typeIndex   DataType
	frameOffset int
	bytes       []byte
}

func newFakePerformer() *fakePerformer {
	return &fakePerformer{
		maxBlockSize:   512,
		inputValues:    make(map[EndpointHandle][]byte),
		outputConstant: make(map[EndpointHandle][]float32),
		outputChannels: make(map[EndpointHandle]int),
		outboundEvents: make(map[EndpointHandle][]fakeOutboundEvent),
	}
}

func (p *fakePerformer) SetBlockSize(frames int) error {
	p.blockSizeCalls = append(p.blockSizeCalls, frames)
	return nil
}

func (p *fakePerformer) GetMaximumBlockSize() int { return p.maxBlockSize }
func (p *fakePerformer) GetEventBufferSize() int  { return 64 }

func (p *fakePerformer) SetInputFrames(handle EndpointHandle, ptr []byte, frames int) error {
	return nil
}

func (p *fakePerformer) SetInputValue(handle EndpointHandle, bytes []byte, rampFrames int) error {
	p.inputValues[handle] = append([]byte(nil), bytes...)
	return nil
}

func (p *fakePerformer) AddInputEvent(handle EndpointHandle, typeIndex DataType, bytes []byte) error {
	p.addInputEvents = append(p.addInputEvents, addInputEventCall{
		handle:    handle,
		typeIndex: typeIndex,
		bytes:     append([]byte(nil), bytes...),
		callIndex: len(p.blockSizeCalls) - 1,
	})
	return nil
}

func (p *fakePerformer) Advance() error { return nil }

func (p *fakePerformer) CopyOutputFrames(handle EndpointHandle, dest []byte, frames int) error {
	values := p.outputConstant[handle]
	channels := p.outputChannels[handle]
	if channels == 0 {
		channels = len(values)
	}
	for f := 0; f < frames; f++ {
		for c := 0; c < channels; c++ {
			off := (f*channels + c) * 4
			var v float32
			if c < len(values) {
				v = values[c]
			}
			binary.NativeEndian.PutUint32(dest[off:], math.Float32bits(v))
		}
	}
	return nil
}

func (p *fakePerformer) CopyOutputChannel(handle EndpointHandle, channel int, dest []byte, frames int) error {
	values := p.outputConstant[handle]
	var v float32
	if channel < len(values) {
		v = values[channel]
	}
	for f := 0; f < frames; f++ {
		binary.NativeEndian.PutUint32(dest[f*4:], math.Float32bits(v))
	}
	return nil
}

func (p *fakePerformer) IterateOutputEvents(handle EndpointHandle, visit func(typeIndex DataType, frameOffset int, bytes []byte) bool) error {
	for _, ev := range p.outboundEvents[handle] {
		if !visit(ev.typeIndex, ev.frameOffset, ev.bytes) {
			break
		}
	}
	p.outboundEvents[handle] = nil
	return nil
}

// identityCoercer treats every posted value as a float32 and coerces it
// to a plain 4-byte native-endianness payload, type index 0.
type identityCoercer struct{}

func (identityCoercer) InitialiseDictionary(p Performer) error { return nil }

func (identityCoercer) CoerceValueToMatchingType(handle EndpointHandle, value interface{}) (CoercedValue, bool) {
	f, ok := value.(float32)
	if !ok {
		return CoercedValue{}, false
	}
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, math.Float32bits(f))
	return CoercedValue{TypeIndex: 0, Bytes: b}, true
}

func (identityCoercer) CoerceValue(handle EndpointHandle, value interface{}) ([]byte, bool) {
	f, ok := value.(float32)
	if !ok {
		return nil, false
	}
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, math.Float32bits(f))
	return b, true
}

func (identityCoercer) ViewForOutputData(handle EndpointHandle, typeIndex DataType, bytes []byte) (interface{}, bool) {
	if len(bytes) < 4 {
		return nil, false
	}
	return math.Float32frombits(binary.NativeEndian.Uint32(bytes)), true
}

func newTestBlock(numFrames, inChans, outChans int) *Block {
	b := &Block{NumFrames: numFrames}
	for i := 0; i < inChans; i++ {
		b.AudioIn = append(b.AudioIn, make([]float32, numFrames))
	}
	for i := 0; i < outChans; i++ {
		ch := make([]float32, numFrames)
		for f := range ch {
			ch[f] = 1.0
		}
		b.AudioOut = append(b.AudioOut, ch)
	}
	return b
}

func buildTestHarness(t *testing.T, endpoints []Endpoint, hostOutputChannels int, wire func(*RoutingBuilder), perf *fakePerformer) *Harness {
	t.Helper()
	builder := NewRoutingBuilder(endpoints, hostOutputChannels)
	if wire != nil {
		wire(builder)
	}
	plan, err := builder.CreatePerformer()
	if err != nil {
		t.Fatalf("CreatePerformer: %v", err)
	}
	h := NewHarness(plan, func() (Performer, error) { return perf, nil }, HarnessConfig{
		Coercer:      identityCoercer{},
		ErrorHandler: PanicErrorHandler{},
	})
	t.Cleanup(h.Destroy)
	if err := h.PrepareToStart(); err != nil {
		t.Fatalf("PrepareToStart: %v", err)
	}
	return h
}

// TestProcessBlockSlicing is spec.md §8 scenario S1: a 1500-frame host
// block with currentMaxBlockSize=512 must advance in 512/512/476-frame
// sub-blocks, with MIDI delivered only on the first.
func TestProcessBlockSlicing(t *testing.T) {
	endpoints := []Endpoint{
		{ID: "midiIn", Handle: 1, Kind: EndpointMIDIIn},
	}
	perf := newFakePerformer()
	h := buildTestHarness(t, endpoints, 0, func(b *RoutingBuilder) {
		if err := b.ConnectMIDIInput("midiIn"); err != nil {
			t.Fatalf("ConnectMIDIInput: %v", err)
		}
	}, perf)

	block := newTestBlock(1500, 0, 0)
	block.MIDIIn = []MIDIEvent{{Message: ShortMessage{0x90, 60, 100}}}

	if ok := h.Process(block, true); !ok {
		t.Fatal("Process returned false")
	}

	want := []int{512, 512, 476}
	if len(perf.blockSizeCalls) != len(want) {
		t.Fatalf("got %v sub-block sizes, want %v", perf.blockSizeCalls, want)
	}
	for i := range want {
		if perf.blockSizeCalls[i] != want[i] {
			t.Fatalf("sub-block %d: got %d frames, want %d", i, perf.blockSizeCalls[i], want[i])
		}
	}

	midiCalls := 0
	for _, c := range perf.addInputEvents {
		if c.handle == 1 {
			midiCalls++
			if c.callIndex != 0 {
				t.Fatalf("MIDI delivered on sub-block %d, want only sub-block 0", c.callIndex)
			}
		}
	}
	if midiCalls != 1 {
		t.Fatalf("got %d MIDI deliveries, want exactly 1", midiCalls)
	}

	if got := h.NumFramesProcessed(); got != 1500 {
		t.Fatalf("NumFramesProcessed: got %d, want 1500", got)
	}
}

// TestProcessStereoOverwrite is spec.md §8 scenario S2.
func TestProcessStereoOverwrite(t *testing.T) {
	endpoints := []Endpoint{
		{ID: "out", Handle: 1, Kind: EndpointStream, Direction: DirectionOutput, Channels: 2, Element: ElementFloat32},
	}
	perf := newFakePerformer()
	perf.outputConstant[1] = []float32{0.5, -0.5}
	perf.outputChannels[1] = 2

	h := buildTestHarness(t, endpoints, 3, func(b *RoutingBuilder) {
		if err := b.ConnectAudioOutputTo("out", []int{0, 1}, []int{0, 1}); err != nil {
			t.Fatalf("ConnectAudioOutputTo: %v", err)
		}
	}, perf)

	block := newTestBlock(4, 0, 3)
	if ok := h.Process(block, true); !ok {
		t.Fatal("Process returned false")
	}

	for f := 0; f < 4; f++ {
		if block.AudioOut[0][f] != 0.5 {
			t.Fatalf("frame %d channel 0: got %v, want 0.5", f, block.AudioOut[0][f])
		}
		if block.AudioOut[1][f] != -0.5 {
			t.Fatalf("frame %d channel 1: got %v, want -0.5", f, block.AudioOut[1][f])
		}
		if block.AudioOut[2][f] != 0 {
			t.Fatalf("frame %d channel 2 (unused): got %v, want 0", f, block.AudioOut[2][f])
		}
	}
}

// TestProcessOverlappingAdd is spec.md §8 scenario S3.
func TestProcessOverlappingAdd(t *testing.T) {
	endpoints := []Endpoint{
		{ID: "outA", Handle: 1, Kind: EndpointStream, Direction: DirectionOutput, Channels: 1, Element: ElementFloat32},
		{ID: "outB", Handle: 2, Kind: EndpointStream, Direction: DirectionOutput, Channels: 1, Element: ElementFloat32},
	}
	perf := newFakePerformer()
	perf.outputConstant[1] = []float32{0.25}
	perf.outputConstant[2] = []float32{0.25}

	h := buildTestHarness(t, endpoints, 1, func(b *RoutingBuilder) {
		if err := b.ConnectAudioOutputTo("outA", []int{0}, []int{0}); err != nil {
			t.Fatalf("connect outA: %v", err)
		}
		if err := b.ConnectAudioOutputTo("outB", []int{0}, []int{0}); err != nil {
			t.Fatalf("connect outB: %v", err)
		}
	}, perf)

	block := newTestBlock(2, 0, 1)
	if ok := h.Process(block, true); !ok {
		t.Fatal("Process returned false")
	}

	for f := 0; f < 2; f++ {
		if block.AudioOut[0][f] != 0.5 {
			t.Fatalf("frame %d: got %v, want 0.5", f, block.AudioOut[0][f])
		}
	}
}

// TestProcessEventRoundTrip is spec.md §8 scenario S4.
func TestProcessEventRoundTrip(t *testing.T) {
	endpoints := []Endpoint{
		{ID: "eventIn", Handle: 1, Kind: EndpointEvent, Direction: DirectionInput},
		{ID: "eventOut", Handle: 2, Kind: EndpointEvent, Direction: DirectionOutput},
	}
	perf := newFakePerformer()
	perf.outboundEvents[2] = []fakeOutboundEvent{
		{typeIndex: 0, frameOffset: 100, bytes: floatBytes(7)},
	}

	h := buildTestHarness(t, endpoints, 0, func(b *RoutingBuilder) {
		if err := b.SetEventOutputHandler(); err != nil {
			t.Fatalf("SetEventOutputHandler: %v", err)
		}
	}, perf)

	received := make(chan struct {
		frame uint64
		value interface{}
	}, 1)
	h.SetOutboundEventCallback(func(frame uint64, endpoint EndpointID, value interface{}) {
		received <- struct {
			frame uint64
			value interface{}
		}{frame, value}
	})

	if err := h.PostEvent("eventIn", float32(7)); err != nil {
		t.Fatalf("PostEvent: %v", err)
	}

	block := newTestBlock(256, 0, 0)
	if ok := h.Process(block, true); !ok {
		t.Fatal("Process returned false")
	}

	found := false
	for _, c := range perf.addInputEvents {
		if c.handle == 1 {
			found = true
			if got := math.Float32frombits(binary.NativeEndian.Uint32(c.bytes)); got != 7 {
				t.Fatalf("got coerced value %v, want 7", got)
			}
		}
	}
	if !found {
		t.Fatal("event was never delivered to the performer")
	}

	select {
	case r := <-received:
		if r.frame != 100 {
			t.Fatalf("got frame %d, want 100", r.frame)
		}
		if v, ok := r.value.(float32); !ok || v != 7 {
			t.Fatalf("got value %v, want float32(7)", r.value)
		}
	case <-time.After(time.Second):
		t.Fatal("outbound callback was never invoked")
	}
}

// TestProcessMIDIOutputMerge is spec.md §8 scenario S5.
func TestProcessMIDIOutputMerge(t *testing.T) {
	endpoints := []Endpoint{
		{ID: "midiOutA", Handle: 1, Kind: EndpointMIDIOut},
		{ID: "midiOutB", Handle: 2, Kind: EndpointMIDIOut},
	}
	perf := newFakePerformer()
	msg := PackShortMessage(ShortMessage{0x90, 1, 1})
	packed := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.NativeEndian.PutUint32(b, v)
		return b
	}
	perf.outboundEvents[1] = []fakeOutboundEvent{
		{frameOffset: 10, bytes: packed(msg)},
		{frameOffset: 30, bytes: packed(msg)},
	}
	perf.outboundEvents[2] = []fakeOutboundEvent{
		{frameOffset: 10, bytes: packed(msg)},
		{frameOffset: 20, bytes: packed(msg)},
	}

	h := buildTestHarness(t, endpoints, 0, func(b *RoutingBuilder) {
		if err := b.ConnectMIDIOutput("midiOutA"); err != nil {
			t.Fatalf("connect A: %v", err)
		}
		if err := b.ConnectMIDIOutput("midiOutB"); err != nil {
			t.Fatalf("connect B: %v", err)
		}
	}, perf)

	var offsets []int
	block := newTestBlock(64, 0, 0)
	block.OnMIDIOutputMessage = func(frame int, message ShortMessage) {
		offsets = append(offsets, frame)
	}

	if ok := h.Process(block, true); !ok {
		t.Fatal("Process returned false")
	}

	want := []int{10, 10, 20, 30}
	if len(offsets) != len(want) {
		t.Fatalf("got %v, want %v", offsets, want)
	}
	for i := range want {
		if offsets[i] != want[i] {
			t.Fatalf("position %d: got %d, want %d", i, offsets[i], want[i])
		}
	}
}

func TestProcessFailsWhenPerformerNotReady(t *testing.T) {
	builder := NewRoutingBuilder(nil, 0)
	plan, err := builder.CreatePerformer()
	if err != nil {
		t.Fatalf("CreatePerformer: %v", err)
	}
	h := NewHarness(plan, func() (Performer, error) { return newFakePerformer(), nil }, HarnessConfig{
		Coercer: identityCoercer{},
	})
	t.Cleanup(h.Destroy)

	block := newTestBlock(64, 0, 0)
	if ok := h.Process(block, true); ok {
		t.Fatal("Process succeeded before PrepareToStart")
	}
}

func floatBytes(v float32) []byte {
	b := make([]byte, 4)
	binary.NativeEndian.PutUint32(b, math.Float32bits(v))
	return b
}
