// Package perfharness wraps a compiled audio DSP engine (the "performer")
// and exposes it as a single audio+MIDI callback suitable for an audio
// host or an offline renderer.
//
// It bridges three execution contexts: the realtime audio/MIDI callback
// thread, one or more control threads that post parameter changes and
// events asynchronously, and a notification thread that drains outbound
// events produced by the DSP and dispatches them to user callbacks.
package perfharness
