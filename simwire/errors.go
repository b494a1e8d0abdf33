package simwire

import "errors"

// The error kinds a System's Poll loop and Builder report, per
// spec.md §7. ErrBuildState, ErrThrottled, and circuit.ErrCapacityExceeded
// are declared alongside the code that raises them; the rest are
// collected here.
var (
	// ErrUnknownTemplate is returned when a message names or carries an
	// opcode with no matching Template.
	ErrUnknownTemplate = errors.New("simwire: unknown template")

	// ErrMalformedMessage wraps circuit.ErrMalformedHeader and the
	// block/variable decode failures produced by decodeBlocks: the
	// datagram is dropped rather than the Poll loop returning an error.
	ErrMalformedMessage = errors.New("simwire: malformed message")

	// ErrTransport reports a Transport.Send or Transport.Receive failure
	// that isn't ErrNoData.
	ErrTransport = errors.New("simwire: transport error")

	// ErrHandlerFailure wraps a panic or error returned from a registered
	// HandlerFunc. It is logged, not propagated to the caller of Poll.
	ErrHandlerFailure = errors.New("simwire: handler failure")
)
