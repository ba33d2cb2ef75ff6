// Package render implements an offline rendering driver, the harness's
// C7: a synthesized audio clock that pumps a Callback off a real audio
// device, slicing each host block at MIDI event boundaries so the
// callback only ever sees MIDI delivered at a sub-block's start.
package render

import (
	"sort"

	"github.com/shaban/perfharness"
)

// Callback is the subset of Harness the driver depends on. Accepting an
// interface here, rather than a concrete *perfharness.Harness, keeps the
// driver testable against a fake and keeps the two packages only loosely
// coupled, the way the teacher keeps its engine/queue dispatcher talking
// to an interface rather than a concrete avaudio engine.
type Callback interface {
	PrepareToStart() error
	Process(block *perfharness.Block, replaceOutput bool) bool
	PlaybackStopped()
}

// MIDIMessage is one time-stamped MIDI message the input producer hands
// back for a block, with Frame relative to that block's start.
type MIDIMessage struct {
	Message perfharness.ShortMessage
	Frame   int
}

// InputProvider fills audioIn (already zeroed) for the next block and
// returns the block's MIDI events sorted non-decreasing by Frame, or
// false to terminate the render loop.
type InputProvider func(audioIn [][]float32) ([]MIDIMessage, bool)

// OutputConsumer receives one fully rendered block's output, returning
// false to terminate the render loop.
type OutputConsumer func(audioOut [][]float32) bool

// Options configures block shape. SampleRate is informational only: it
// is never consulted by the driver itself, since sample-rate plumbing
// into the wrapped performer is the factory/coercer's concern.
type Options struct {
	SampleRate     float64
	BlockSize      int
	InputChannels  int
	OutputChannels int
}

// Driver is an offline pump: Start spawns a goroutine that repeatedly
// synthesizes a block, asks the InputProvider for audio+MIDI input,
// drives the Callback through it (MIDI-aware sub-blocking included),
// and hands the result to the OutputConsumer, until either side signals
// termination.
type Driver struct {
	opts         Options
	provideInput InputProvider
	handleOutput OutputConsumer

	startLock chan struct{} // buffered(1); holds the "mutex" token
	callback  Callback

	done chan struct{}
}

// New constructs a Driver. It does not start rendering until Start is
// called.
func New(opts Options, provideInput InputProvider, handleOutput OutputConsumer) *Driver {
	d := &Driver{
		opts:         opts,
		provideInput: provideInput,
		handleOutput: handleOutput,
		startLock:    make(chan struct{}, 1),
	}
	d.startLock <- struct{}{}
	return d
}

func (d *Driver) lock()   { <-d.startLock }
func (d *Driver) unlock() { d.startLock <- struct{}{} }

// Start records callback under startLock and spawns the render thread,
// unless a render is already running.
func (d *Driver) Start(callback Callback) {
	d.lock()
	if d.callback != nil {
		d.unlock()
		return
	}
	d.callback = callback
	d.done = make(chan struct{})
	d.unlock()
	go d.run()
}

// Stop clears the callback under startLock and joins the render thread.
// renderOneBlock holds startLock across a whole block, so a Stop that
// arrives while a block is in flight waits until that block, including
// its InputProvider, Callback and OutputConsumer calls, has finished.
// Stop does not call the callback's PlaybackStopped.
func (d *Driver) Stop() {
	d.lock()
	done := d.done
	d.callback = nil
	d.unlock()
	if done != nil {
		<-done
	}
}

func (d *Driver) run() {
	defer close(d.done)
	for d.renderOneBlock() {
	}
}

// renderOneBlock runs a single iteration of the render loop described in
// spec.md §4.5, holding startLock across the whole block: clearing
// buffers, asking for input, running every MIDI-sliced sub-block through
// the callback, then handing output off. It returns false once the
// callback has been dropped (either side terminated, or the callback was
// already nil because Stop ran first). Each of the three termination
// paths taken here (InputProvider false, PrepareToStart error,
// OutputConsumer false) notifies the dropped callback via PlaybackStopped
// before clearing it, so a caller relying on that notification to release
// resources (a Harness releasing its performer, say) sees it regardless
// of which side ended the loop. When Stop cleared the callback, no
// PlaybackStopped call is made.
func (d *Driver) renderOneBlock() bool {
	audioIn := allocateChannels(d.opts.InputChannels, d.opts.BlockSize)
	audioOut := allocateChannels(d.opts.OutputChannels, d.opts.BlockSize)

	d.lock()
	defer d.unlock()

	cb := d.callback
	if cb == nil {
		return false
	}

	midi, ok := d.provideInput(audioIn)
	if !ok {
		cb.PlaybackStopped()
		d.callback = nil
		return false
	}

	if err := cb.PrepareToStart(); err != nil {
		cb.PlaybackStopped()
		d.callback = nil
		return false
	}

	runMIDISlicedBlock(cb, audioIn, audioOut, midi, d.opts.BlockSize)

	if !d.handleOutput(audioOut) {
		cb.PlaybackStopped()
		d.callback = nil
		return false
	}
	return true
}

// runMIDISlicedBlock walks [0, blockSize) in segments bounded by the
// next undelivered MIDI event's frame, delivering every event at or
// before a segment's start at that segment's boundary (so the callback
// only ever sees MIDI at a sub-block's start) before processing the
// segment in replace mode.
func runMIDISlicedBlock(cb Callback, audioIn, audioOut [][]float32, midi []MIDIMessage, blockSize int) {
	sort.SliceStable(midi, func(i, j int) bool { return midi[i].Frame < midi[j].Frame })

	idx := 0
	segStart := 0
	for segStart < blockSize {
		batchStart := idx
		for idx < len(midi) && midi[idx].Frame <= segStart {
			idx++
		}
		segEnd := blockSize
		if idx < len(midi) && midi[idx].Frame < segEnd {
			segEnd = midi[idx].Frame
		}
		if segEnd <= segStart {
			segEnd = segStart + 1
		}

		var events []perfharness.MIDIEvent
		for _, m := range midi[batchStart:idx] {
			events = append(events, perfharness.MIDIEvent{Message: m.Message, Frame: m.Frame - segStart})
		}

		block := perfharness.Block{
			NumFrames: segEnd - segStart,
			AudioIn:   sliceChannels(audioIn, segStart, segEnd),
			AudioOut:  sliceChannels(audioOut, segStart, segEnd),
			MIDIIn:    events,
		}
		cb.Process(&block, true)

		segStart = segEnd
	}
}

func allocateChannels(channels, frames int) [][]float32 {
	if channels <= 0 {
		return nil
	}
	buf := make([][]float32, channels)
	for i := range buf {
		buf[i] = make([]float32, frames)
	}
	return buf
}

func sliceChannels(buf [][]float32, start, end int) [][]float32 {
	if buf == nil {
		return nil
	}
	out := make([][]float32, len(buf))
	for i, ch := range buf {
		out[i] = ch[start:end]
	}
	return out
}
