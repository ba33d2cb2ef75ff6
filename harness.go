package perfharness

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"
)

// PerformerFactory creates a fresh Performer instance. It stands in for
// the "loaded engine" spec.md's builder lifecycle talks about: loading a
// program and instantiating the DSP engine are both external collaborator
// concerns out of scope for this package, so the harness only ever needs
// one call that hands back a ready-to-configure Performer.
type PerformerFactory func() (Performer, error)

// OutboundEventCallback receives one event emitted by the DSP's
// event-output endpoints, with an absolute frame number
// (numFramesProcessed-at-emission + frame-offset-within-block) and the
// endpoint it came from.
type OutboundEventCallback func(frame uint64, endpoint EndpointID, value interface{})

// Harness owns the queues, routing plan, scratch buffers and endpoint
// handle maps for one wrapped Performer, and implements process(),
// postEvent/postValue and outbound event dispatch. It is spec.md's C6.
//
// A Harness lives until Destroy is called. prepareToStart allocates the
// performer; playbackStopped releases it. While performer is nil,
// process is a no-op returning ErrPerformerNotReady.
type Harness struct {
	id uuid.UUID

	plan    *RoutingPlan
	factory PerformerFactory
	coercer Coercer

	errorHandler ErrorHandler

	eventQueue       *byteQueue
	valueQueue       *byteQueue
	outputEventQueue *byteQueue

	outboundWorker   *worker
	outboundCallback OutboundEventCallback

	performer           Performer
	currentMaxBlockSize int
	maxBlockSizeCeiling int

	scratchIn    []byte
	scratchOut   []byte
	scratchMono  []byte
	midiOutScratch []midiOutEvent

	numFramesProcessed atomic.Uint64
}

type midiOutEvent struct {
	message ShortMessage
	frame   int
}

// NewHarness builds a Harness over a frozen RoutingPlan. factory is
// called once per prepareToStart to obtain a fresh Performer.
func NewHarness(plan *RoutingPlan, factory PerformerFactory, cfg HarnessConfig) *Harness {
	errHandler := cfg.ErrorHandler
	if errHandler == nil {
		errHandler = DefaultErrorHandler{}
	}

	h := &Harness{
		id:                  uuid.New(),
		plan:                plan,
		factory:             factory,
		coercer:             cfg.Coercer,
		errorHandler:        errHandler,
		eventQueue:          newByteQueue(cfg.eventCapacity()),
		valueQueue:          newByteQueue(cfg.valueCapacity()),
		outputEventQueue:    newByteQueue(cfg.outputCapacity()),
		maxBlockSizeCeiling: cfg.MaxBlockSize,
	}
	h.outboundWorker = newWorker(h.dispatchOutboundEvents)
	h.outboundWorker.Start()

	maxCh := plan.maxEndpointChannels
	if maxCh < 1 {
		maxCh = 1
	}
	scratchBytes := MaxFramesPerBlock * maxCh * 8
	h.scratchIn = make([]byte, scratchBytes)
	h.scratchOut = make([]byte, scratchBytes)
	h.scratchMono = make([]byte, MaxFramesPerBlock*8)

	return h
}

// ID returns the harness's identity, stamped at construction the same
// way the teacher stamps every Engine with a UUID distinct from any
// user-facing name.
func (h *Harness) ID() uuid.UUID { return h.id }

// SetOutboundEventCallback installs the listener process() delivers
// captured events to, from the outbound dispatcher worker (never from
// the audio thread).
func (h *Harness) SetOutboundEventCallback(cb OutboundEventCallback) {
	h.outboundCallback = cb
}

// PrepareToStart creates the performer from the factory, clamps
// currentMaxBlockSize, reserves the MIDI-output scratch vector, and
// re-initialises the coercer's dictionary.
func (h *Harness) PrepareToStart() error {
	p, err := h.factory()
	if err != nil {
		return err
	}

	maxBlock := p.GetMaximumBlockSize()
	if maxBlock <= 0 || maxBlock > MaxFramesPerBlock {
		maxBlock = MaxFramesPerBlock
	}
	if h.maxBlockSizeCeiling > 0 && h.maxBlockSizeCeiling < maxBlock {
		maxBlock = h.maxBlockSizeCeiling
	}

	bufferCap := len(h.plan.midiOutputEndpoints) * p.GetEventBufferSize()
	h.midiOutScratch = make([]midiOutEvent, 0, bufferCap)

	if h.coercer != nil {
		if err := h.coercer.InitialiseDictionary(p); err != nil {
			return err
		}
	}

	h.performer = p
	h.currentMaxBlockSize = maxBlock
	return nil
}

// PlaybackStopped releases the performer. process() becomes a no-op
// again until the next PrepareToStart.
func (h *Harness) PlaybackStopped() {
	h.performer = nil
}

// Destroy tears down the harness. The performer, if any, must already be
// released (PlaybackStopped) before the caller releases the engine the
// performer was created from: this only stops the outbound worker.
func (h *Harness) Destroy() {
	h.outboundWorker.Close()
}

// PostEvent posts one event to an event or MIDI-in endpoint by id or by
// handle, coercing value to the endpoint's accepted type. MIDI endpoints
// are not registered by id, so a MIDI-in endpoint can only be targeted by
// handle; an id naming one fails with ErrUnknownEndpoint. It may be
// called concurrently from exactly one producer thread per queue; only
// process() drains it.
func (h *Harness) PostEvent(target interface{}, value interface{}) error {
	handle, err := h.resolveTarget(target)
	if err != nil {
		return err
	}
	if h.coercer == nil {
		return ErrCoercionFailed
	}
	coerced, ok := h.coercer.CoerceValueToMatchingType(handle, value)
	if !ok {
		return ErrCoercionFailed
	}
	size := eventInRecordSize(len(coerced.Bytes))
	pushed := h.eventQueue.push(size, func(dest []byte) {
		encodeEventIn(dest, handle, coerced.TypeIndex, coerced.Bytes)
	})
	if !pushed {
		return ErrOverflow
	}
	return nil
}

// PostValue posts a ramped value to a value endpoint by id or handle.
func (h *Harness) PostValue(target interface{}, value interface{}, framesToReachValue int) error {
	handle, err := h.resolveTarget(target)
	if err != nil {
		return err
	}
	if h.coercer == nil {
		return ErrCoercionFailed
	}
	bytes, ok := h.coercer.CoerceValue(handle, value)
	if !ok {
		return ErrCoercionFailed
	}
	size := valueInRecordSize(len(bytes))
	pushed := h.valueQueue.push(size, func(dest []byte) {
		encodeValueIn(dest, handle, framesToReachValue, bytes)
	})
	if !pushed {
		return ErrOverflow
	}
	return nil
}

func (h *Harness) resolveTarget(target interface{}) (EndpointHandle, error) {
	switch t := target.(type) {
	case EndpointHandle:
		return t, nil
	case EndpointID:
		handle, ok := h.plan.inputEndpointHandles[t]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownEndpoint, t)
		}
		return handle, nil
	case string:
		handle, ok := h.plan.inputEndpointHandles[EndpointID(t)]
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrUnknownEndpoint, t)
		}
		return handle, nil
	default:
		return 0, fmt.Errorf("%w: unsupported target type %T", ErrUnknownEndpoint, target)
	}
}

// Process runs one host block through the performer, slicing it into
// sub-blocks no larger than currentMaxBlockSize. Any error condition is
// caught here and routed to the ErrorHandler instead of propagating: the
// audio thread never aborts the process.
func (h *Harness) Process(block *Block, replaceOutput bool) bool {
	ok, err := h.process(block, replaceOutput)
	if err != nil {
		h.errorHandler.HandleError(fmt.Errorf("process: %w", err))
		return false
	}
	return ok
}

func (h *Harness) process(block *Block, replaceOutput bool) (bool, error) {
	if h.performer == nil {
		return false, ErrPerformerNotReady
	}

	if block.NumFrames > h.currentMaxBlockSize {
		offset := 0
		carryMIDI := true
		for offset < block.NumFrames {
			n := block.NumFrames - offset
			if n > h.currentMaxBlockSize {
				n = h.currentMaxBlockSize
			}
			sub := block.slice(offset, n, carryMIDI)
			ok, err := h.process(&sub, replaceOutput)
			if err != nil || !ok {
				return false, err
			}
			offset += n
			carryMIDI = false
		}
		return true, nil
	}

	n := block.NumFrames
	if err := h.performer.SetBlockSize(n); err != nil {
		return false, err
	}

	for _, a := range h.plan.preRender {
		if err := h.runPreRender(a, block); err != nil {
			return false, err
		}
	}

	var drainErr error
	h.eventQueue.drain(func(rec []byte) {
		if drainErr != nil {
			return
		}
		handle, typeIndex, payload := decodeEventIn(rec)
		drainErr = h.performer.AddInputEvent(handle, typeIndex, payload)
	})
	if drainErr != nil {
		return false, drainErr
	}

	h.valueQueue.drain(func(rec []byte) {
		if drainErr != nil {
			return
		}
		handle, rampFrames, payload := decodeValueIn(rec)
		drainErr = h.performer.SetInputValue(handle, payload, rampFrames)
	})
	if drainErr != nil {
		return false, drainErr
	}

	for _, midiHandle := range h.plan.midiInputEndpoints {
		for _, ev := range block.MIDIIn {
			packed := PackShortMessage(ev.Message)
			if err := h.performer.AddInputEvent(midiHandle, 0, packedMIDIBytes(packed)); err != nil {
				return false, err
			}
		}
	}

	if err := h.performer.Advance(); err != nil {
		return false, err
	}

	if err := h.dispatchMIDIOutput(block, n); err != nil {
		return false, err
	}

	var renderActions []routingAction
	if replaceOutput {
		renderActions = h.plan.postRenderReplace
	} else {
		renderActions = h.plan.postRenderAdd
	}
	for _, a := range renderActions {
		if err := h.runPostRender(a, block, n); err != nil {
			return false, err
		}
	}

	if err := h.captureOutboundEvents(n); err != nil {
		return false, err
	}

	h.numFramesProcessed.Add(uint64(n))
	return true, nil
}

// NumFramesProcessed returns the running total of frames advanced so
// far. Touched only by the audio thread during process(); safe for any
// thread to read.
func (h *Harness) NumFramesProcessed() uint64 {
	return h.numFramesProcessed.Load()
}

func (h *Harness) runPreRender(a routingAction, block *Block) error {
	n := block.NumFrames
	elemSize := a.element.Size()
	region := h.scratchIn[:a.channels*n*elemSize]
	for i, hostCh := range a.hostChans {
		epCh := a.endpointChans[i]
		src := block.AudioIn[hostCh]
		for f := 0; f < n; f++ {
			off := (f*a.channels + epCh) * elemSize
			writeElement(region[off:off+elemSize], a.element, src[f])
		}
	}
	return h.performer.SetInputFrames(a.handle, region, n)
}

func (h *Harness) runPostRender(a routingAction, block *Block, n int) error {
	switch a.kind {
	case actionOutputReplaceOne:
		if len(a.destChans) == 0 {
			return nil
		}
		buf := h.scratchMono[:n*a.element.Size()]
		if err := h.performer.CopyOutputChannel(a.handle, 0, buf, n); err != nil {
			return err
		}
		first := block.AudioOut[a.destChans[0]]
		for f := 0; f < n; f++ {
			first[f] = readElement(buf[f*a.element.Size():], a.element)
		}
		for _, extra := range a.destChans[1:] {
			copy(block.AudioOut[extra], first)
		}
		return nil

	case actionOutputReplaceScratch:
		elemSize := a.element.Size()
		region := h.scratchOut[:a.channels*n*elemSize]
		if err := h.performer.CopyOutputFrames(a.handle, region, n); err != nil {
			return err
		}
		for _, p := range a.overwrite {
			dst := block.AudioOut[p.hostChannel]
			for f := 0; f < n; f++ {
				off := (f*a.channels + p.endpointChannel) * elemSize
				dst[f] = readElement(region[off:off+elemSize], a.element)
			}
		}
		for _, p := range a.add {
			dst := block.AudioOut[p.hostChannel]
			for f := 0; f < n; f++ {
				off := (f*a.channels + p.endpointChannel) * elemSize
				dst[f] += readElement(region[off:off+elemSize], a.element)
			}
		}
		return nil

	case actionOutputAddScratch:
		elemSize := a.element.Size()
		region := h.scratchOut[:a.channels*n*elemSize]
		if err := h.performer.CopyOutputFrames(a.handle, region, n); err != nil {
			return err
		}
		for _, p := range a.all {
			dst := block.AudioOut[p.hostChannel]
			for f := 0; f < n; f++ {
				off := (f*a.channels + p.endpointChannel) * elemSize
				dst[f] += readElement(region[off:off+elemSize], a.element)
			}
		}
		return nil

	case actionOutputClear:
		anyUsed := false
		for _, used := range a.used {
			if used {
				anyUsed = true
				break
			}
		}
		for i, ch := range block.AudioOut {
			if !anyUsed || i >= len(a.used) || !a.used[i] {
				for f := range ch[:n] {
					ch[f] = 0
				}
			}
		}
		return nil
	}
	return nil
}

// dispatchMIDIOutput drains every MIDI-output endpoint's emitted events
// for this sub-block, stable-sorts them by frame offset to merge streams
// from multiple endpoints while preserving each endpoint's own emission
// order, and invokes block.OnMIDIOutputMessage for each in order.
func (h *Harness) dispatchMIDIOutput(block *Block, n int) error {
	if block.OnMIDIOutputMessage == nil {
		return nil
	}
	h.midiOutScratch = h.midiOutScratch[:0]
	for _, handle := range h.plan.midiOutputEndpoints {
		var iterErr error
		err := h.performer.IterateOutputEvents(handle, func(_ DataType, frameOffset int, bytes []byte) bool {
			if len(bytes) < 4 {
				return true
			}
			packed := packedMIDIFromBytes(bytes)
			h.midiOutScratch = append(h.midiOutScratch, midiOutEvent{
				message: UnpackShortMessage(packed),
				frame:   frameOffset,
			})
			return true
		})
		if iterErr != nil {
			return iterErr
		}
		if err != nil {
			return err
		}
	}
	sort.SliceStable(h.midiOutScratch, func(i, j int) bool {
		return h.midiOutScratch[i].frame < h.midiOutScratch[j].frame
	})
	for _, ev := range h.midiOutScratch {
		block.OnMIDIOutputMessage(ev.frame, ev.message)
	}
	h.midiOutScratch = h.midiOutScratch[:0]
	return nil
}

// captureOutboundEvents drains every event-output endpoint's emitted
// events for this sub-block into outputEventQueue with an absolute frame
// number, then triggers the outbound dispatcher worker.
func (h *Harness) captureOutboundEvents(n int) error {
	if len(h.plan.eventOutputHandles) == 0 {
		return nil
	}
	base := h.numFramesProcessed.Load()
	var iterErr error
	for _, entry := range h.plan.eventOutputHandles {
		err := h.performer.IterateOutputEvents(entry.Handle, func(typeIndex DataType, frameOffset int, bytes []byte) bool {
			absolute := base + uint64(frameOffset)
			size := eventOutRecordSize(len(bytes))
			pushed := h.outputEventQueue.push(size, func(dest []byte) {
				encodeEventOut(dest, entry.Handle, typeIndex, absolute, bytes)
			})
			if !pushed {
				iterErr = ErrOverflow
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		if iterErr != nil {
			return iterErr
		}
	}
	h.outboundWorker.Trigger()
	return nil
}

// dispatchOutboundEvents runs on the outbound worker thread: it drains
// outputEventQueue, maps each handle back to its EndpointID by a linear
// scan over the small event-output list, and calls the user callback
// with a coercer-provided view of the bytes.
func (h *Harness) dispatchOutboundEvents() {
	if h.outboundCallback == nil {
		h.outputEventQueue.drain(func([]byte) {})
		return
	}
	h.outputEventQueue.drain(func(rec []byte) {
		handle, typeIndex, absoluteFrame, payload := decodeEventOut(rec)
		id := h.endpointIDForHandle(handle)
		var view interface{} = payload
		if h.coercer != nil {
			if v, ok := h.coercer.ViewForOutputData(handle, typeIndex, payload); ok {
				view = v
			}
		}
		h.outboundCallback(absoluteFrame, id, view)
	})
}

func (h *Harness) endpointIDForHandle(handle EndpointHandle) EndpointID {
	for _, entry := range h.plan.eventOutputHandles {
		if entry.Handle == handle {
			return entry.ID
		}
	}
	return ""
}

func writeElement(dst []byte, et ElementType, v float32) {
	if et == ElementFloat64 {
		binary.NativeEndian.PutUint64(dst, math.Float64bits(float64(v)))
		return
	}
	binary.NativeEndian.PutUint32(dst, math.Float32bits(v))
}

func readElement(src []byte, et ElementType) float32 {
	if et == ElementFloat64 {
		return float32(math.Float64frombits(binary.NativeEndian.Uint64(src)))
	}
	return math.Float32frombits(binary.NativeEndian.Uint32(src))
}
