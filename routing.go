package perfharness

import (
	"fmt"
	"sync"
)

// chanPair is one endpoint-channel -> host-channel mapping.
type chanPair struct {
	endpointChannel int
	hostChannel     int
}

type routingActionKind int

const (
	actionInputCopy routingActionKind = iota
	actionOutputReplaceOne
	actionOutputReplaceScratch
	actionOutputAddScratch
	actionOutputClear
)

// routingAction is one frozen, data-only step of a RoutingPlan. Per
// spec.md's design notes, this is a tagged variant rather than a
// captured closure: the harness's per-block loop switches on kind and
// reads plain fields, so the plan stays inspectable (and testable in
// isolation, see routing_test.go) without executing anything.
type routingAction struct {
	kind routingActionKind

	handle   EndpointHandle
	channels int
	element  ElementType

	// actionInputCopy: host channel hostChans[i] feeds endpoint channel
	// endpointChans[i].
	hostChans     []int
	endpointChans []int

	// actionOutputReplaceOne: the endpoint's single channel, duplicated
	// (if necessary) into every entry of destChans.
	destChans []int

	// actionOutputReplaceScratch: overwrite destinations are written
	// first, then add destinations accumulate onto whatever is there.
	overwrite []chanPair
	add       []chanPair

	// actionOutputAddScratch: every mapped pair always accumulates.
	all []chanPair

	// actionOutputClear: host output channel i is zeroed when used[i]
	// is false (or when used is empty, meaning clear everything).
	used []bool
}

// EventOutputEntry names one event-output endpoint an outbound listener
// can be delivered events from.
type EventOutputEntry struct {
	Handle EndpointHandle
	ID     EndpointID
}

// RoutingBuilder declaratively wires host channels to endpoint channels,
// MIDI endpoints and the event-output listener. It is consumed exactly
// once by CreatePerformer, which freezes the accumulated wiring into a
// RoutingPlan and invalidates the builder (spec.md §3 "Lifecycle").
type RoutingBuilder struct {
	mu       sync.Mutex
	consumed bool

	hostOutputChannels int

	byID     map[EndpointID]Endpoint
	byHandle map[EndpointHandle]Endpoint

	preRender         []routingAction
	postRenderReplace []routingAction
	postRenderAdd     []routingAction

	midiInputEndpoints  []EndpointHandle
	midiInputSeen       map[EndpointHandle]bool
	midiOutputEndpoints []EndpointHandle
	midiOutputSeen      map[EndpointHandle]bool

	eventOutputHandles []EventOutputEntry
	eventHandlerSet    bool

	inputEndpointHandles map[EndpointID]EndpointHandle

	audioOutputChannelsUsed []bool
}

// NewRoutingBuilder starts a builder over the endpoints a loaded engine
// exposes. hostOutputChannels is the fixed width of the host's output
// buffer, used to size the eventual "clear unused channels" action.
func NewRoutingBuilder(endpoints []Endpoint, hostOutputChannels int) *RoutingBuilder {
	b := &RoutingBuilder{
		hostOutputChannels:      hostOutputChannels,
		byID:                    make(map[EndpointID]Endpoint, len(endpoints)),
		byHandle:                make(map[EndpointHandle]Endpoint, len(endpoints)),
		midiInputSeen:           make(map[EndpointHandle]bool),
		midiOutputSeen:          make(map[EndpointHandle]bool),
		inputEndpointHandles:    make(map[EndpointID]EndpointHandle),
		audioOutputChannelsUsed: make([]bool, hostOutputChannels),
	}
	for _, ep := range endpoints {
		b.byID[ep.ID] = ep
		b.byHandle[ep.Handle] = ep
		if ep.Kind != EndpointMIDIIn && ep.Kind != EndpointMIDIOut {
			b.inputEndpointHandles[ep.ID] = ep.Handle
		}
	}
	return b
}

func (b *RoutingBuilder) resolve(id EndpointID) (Endpoint, error) {
	ep, ok := b.byID[id]
	if !ok {
		return Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, id)
	}
	return ep, nil
}

// ConnectAudioInputTo wires host input channels to an input stream
// endpoint's channels, positionally: hostChans[i] feeds endpointChans[i].
func (b *RoutingBuilder) ConnectAudioInputTo(hostChans []int, endpointID EndpointID, endpointChans []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return ErrBuilderConsumed
	}
	if len(hostChans) != len(endpointChans) {
		return ErrChannelCountMismatch
	}
	ep, err := b.resolve(endpointID)
	if err != nil {
		return err
	}
	if ep.Kind != EndpointStream || ep.Direction != DirectionInput {
		return ErrWrongEndpointKind
	}

	action := routingAction{
		kind:          actionInputCopy,
		handle:        ep.Handle,
		channels:      ep.Channels,
		element:       ep.Element,
		hostChans:     append([]int(nil), hostChans...),
		endpointChans: append([]int(nil), endpointChans...),
	}
	b.preRender = append(b.preRender, action)
	return nil
}

// ConnectAudioOutputTo wires an output stream endpoint's channels to host
// output channels, positionally: endpointChans[i] feeds hostChans[i].
//
// Whichever host channel a mapping targets first (in call order, across
// every ConnectAudioOutputTo call so far) wins the overwrite slot for the
// replace-mode render pass; every later mapping to that same channel
// accumulates instead (spec.md §8 invariant 5).
func (b *RoutingBuilder) ConnectAudioOutputTo(endpointID EndpointID, endpointChans []int, hostChans []int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return ErrBuilderConsumed
	}
	if len(endpointChans) != len(hostChans) {
		return ErrChannelCountMismatch
	}
	ep, err := b.resolve(endpointID)
	if err != nil {
		return err
	}
	if ep.Kind != EndpointStream || ep.Direction != DirectionOutput {
		return ErrWrongEndpointKind
	}

	var overwrite, add, all []chanPair
	for i, hostCh := range hostChans {
		pair := chanPair{endpointChannel: endpointChans[i], hostChannel: hostCh}
		all = append(all, pair)
		if hostCh >= 0 && hostCh < len(b.audioOutputChannelsUsed) && b.audioOutputChannelsUsed[hostCh] {
			add = append(add, pair)
		} else {
			overwrite = append(overwrite, pair)
			if hostCh >= 0 && hostCh < len(b.audioOutputChannelsUsed) {
				b.audioOutputChannelsUsed[hostCh] = true
			}
		}
	}

	b.postRenderAdd = append(b.postRenderAdd, routingAction{
		kind:     actionOutputAddScratch,
		handle:   ep.Handle,
		channels: ep.Channels,
		element:  ep.Element,
		all:      all,
	})

	if ep.Channels == 1 && len(add) == 0 {
		dest := make([]int, len(overwrite))
		for i, p := range overwrite {
			dest[i] = p.hostChannel
		}
		b.postRenderReplace = append(b.postRenderReplace, routingAction{
			kind:      actionOutputReplaceOne,
			handle:    ep.Handle,
			channels:  ep.Channels,
			element:   ep.Element,
			destChans: dest,
		})
	} else {
		b.postRenderReplace = append(b.postRenderReplace, routingAction{
			kind:      actionOutputReplaceScratch,
			handle:    ep.Handle,
			channels:  ep.Channels,
			element:   ep.Element,
			overwrite: overwrite,
			add:       add,
		})
	}
	return nil
}

// ConnectMIDIInput marks endpointID as a destination for every host-
// supplied MIDI-in message.
func (b *RoutingBuilder) ConnectMIDIInput(endpointID EndpointID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return ErrBuilderConsumed
	}
	ep, err := b.resolve(endpointID)
	if err != nil {
		return err
	}
	if ep.Kind != EndpointMIDIIn {
		return ErrWrongEndpointKind
	}
	if !b.midiInputSeen[ep.Handle] {
		b.midiInputSeen[ep.Handle] = true
		b.midiInputEndpoints = append(b.midiInputEndpoints, ep.Handle)
	}
	return nil
}

// ConnectMIDIOutput marks endpointID as a source the harness drains for
// outbound MIDI each block.
func (b *RoutingBuilder) ConnectMIDIOutput(endpointID EndpointID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return ErrBuilderConsumed
	}
	ep, err := b.resolve(endpointID)
	if err != nil {
		return err
	}
	if ep.Kind != EndpointMIDIOut {
		return ErrWrongEndpointKind
	}
	if !b.midiOutputSeen[ep.Handle] {
		b.midiOutputSeen[ep.Handle] = true
		b.midiOutputEndpoints = append(b.midiOutputEndpoints, ep.Handle)
	}
	return nil
}

// SetEventOutputHandler enumerates every output endpoint of event kind
// and records it for outbound delivery. It may be called exactly once,
// and fails if there are no event-output endpoints to enumerate.
func (b *RoutingBuilder) SetEventOutputHandler() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return ErrBuilderConsumed
	}
	if b.eventHandlerSet {
		return ErrEventHandlerSet
	}
	var entries []EventOutputEntry
	for _, ep := range b.byID {
		if ep.Kind == EndpointEvent && ep.Direction == DirectionOutput {
			entries = append(entries, EventOutputEntry{Handle: ep.Handle, ID: ep.ID})
		}
	}
	if len(entries) == 0 {
		return ErrNoEventOutputs
	}
	b.eventOutputHandles = entries
	b.eventHandlerSet = true
	return nil
}

// RoutingPlan is the frozen, immutable set of per-block actions a
// RoutingBuilder accumulated. Once produced it is never mutated; the
// audio thread reads it without synchronisation.
type RoutingPlan struct {
	preRender         []routingAction
	postRenderReplace []routingAction
	postRenderAdd     []routingAction

	midiInputEndpoints  []EndpointHandle
	midiOutputEndpoints []EndpointHandle

	eventOutputHandles []EventOutputEntry

	inputEndpointHandles map[EndpointID]EndpointHandle

	maxEndpointChannels int
}

// CreatePerformer freezes the builder's accumulated wiring into a
// RoutingPlan and consumes the builder: every method on b, this one
// included, fails with ErrBuilderConsumed from this point on.
func (b *RoutingBuilder) CreatePerformer() (*RoutingPlan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.consumed {
		return nil, ErrBuilderConsumed
	}
	b.consumed = true

	clear := routingAction{used: append([]bool(nil), b.audioOutputChannelsUsed...)}
	clear.kind = actionOutputClear
	postReplace := append(append([]routingAction(nil), b.postRenderReplace...), clear)

	plan := &RoutingPlan{
		preRender:            append([]routingAction(nil), b.preRender...),
		postRenderReplace:    postReplace,
		postRenderAdd:        append([]routingAction(nil), b.postRenderAdd...),
		eventOutputHandles:   append([]EventOutputEntry(nil), b.eventOutputHandles...),
		inputEndpointHandles: b.inputEndpointHandles,
	}
	plan.midiInputEndpoints = append([]EndpointHandle(nil), b.midiInputEndpoints...)
	plan.midiOutputEndpoints = append([]EndpointHandle(nil), b.midiOutputEndpoints...)
	for _, ep := range b.byHandle {
		if ep.Kind == EndpointStream && ep.Channels > plan.maxEndpointChannels {
			plan.maxEndpointChannels = ep.Channels
		}
	}
	return plan, nil
}
