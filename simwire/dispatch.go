package simwire

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/openmetaverse-go/simwire/circuit"
)

// poll drains every datagram currently available from transport, per
// spec.md §4.7, dispatching each to its registered handlers in turn. It
// returns once Transport.Receive reports circuit.ErrNoData.
func poll(table *circuit.Table, transport circuit.Transport, reg *Registry, handlers *HandlerRegistry, stats *counters, log *logrus.Entry) {
	for {
		host, data, err := transport.Receive()
		if err != nil {
			if errors.Is(err, circuit.ErrNoData) {
				return
			}
			log.WithError(fmt.Errorf("%w: %w", ErrTransport, err)).Warn("simwire: transport receive failed")
			return
		}

		stats.recordRecv(len(data))
		dispatchOne(table, reg, handlers, log, host, data)
	}
}

func dispatchOne(table *circuit.Table, reg *Registry, handlers *HandlerRegistry, log *logrus.Entry, host circuit.Host, data []byte) {
	hdr, rest, err := circuit.DecodeHeader(data, false)
	if err != nil {
		log.WithField("host", host.String()).
			WithError(fmt.Errorf("%w: %w", ErrMalformedMessage, err)).Debug("simwire: dropping malformed header")
		return
	}

	tmpl, ok := reg.ByOpcode(hdr.Opcode)
	if !ok {
		log.WithField("host", host.String()).WithField("opcode", hdr.Opcode).
			WithError(fmt.Errorf("%w: opcode %d", ErrUnknownTemplate, hdr.Opcode)).
			Debug("simwire: dropping message with unknown opcode")
		return
	}

	c, err := table.GetOrCreate(host)
	if err != nil {
		log.WithField("host", host.String()).WithError(err).Warn("simwire: cannot admit new circuit")
		return
	}

	class := c.RecordInbound(hdr.Seq)
	if hdr.Reliable {
		c.QueuePendingAck(hdr.Seq)
	}

	payload, acked, err := circuit.DecodeAckTrailer(rest)
	if err != nil {
		log.WithField("host", host.String()).
			WithError(fmt.Errorf("%w: %w", ErrMalformedMessage, err)).
			Debug("simwire: dropping message with malformed ack trailer")
		return
	}
	for _, seq := range acked {
		c.Acknowledge(seq)
	}

	if class == circuit.DuplicateOrReordered {
		return
	}

	if hdr.ZeroCoded {
		payload, err = circuit.ZeroDecode(payload)
		if err != nil {
			log.WithField("host", host.String()).WithField("template", tmpl.Name).
				WithError(fmt.Errorf("%w: %w", ErrMalformedMessage, err)).Debug("simwire: dropping message with bad zero-coding")
			return
		}
	}

	blocks, _, err := decodeBlocks(tmpl, payload)
	if err != nil {
		log.WithField("host", host.String()).WithField("template", tmpl.Name).
			WithError(fmt.Errorf("%w: %w", ErrMalformedMessage, err)).Debug("simwire: dropping malformed message body")
		return
	}

	for _, h := range handlers.handlersFor(tmpl.Name) {
		runHandler(log, host, tmpl.Name, h, blocks)
	}
}

// runHandler invokes h.fn, converting a panic into a logged
// ErrHandlerFailure so one misbehaving handler can't take down the Poll
// loop or block the rest of the list.
func runHandler(log *logrus.Entry, host circuit.Host, tmplName string, h registeredHandler, blocks map[string][]Instance) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("host", host.String()).WithField("template", tmplName).
				WithError(fmt.Errorf("%w: %v", ErrHandlerFailure, r)).Error("simwire: handler panicked")
		}
	}()

	if err := h.fn(host, blocks, h.userCtx); err != nil {
		log.WithField("host", host.String()).WithField("template", tmplName).
			WithError(fmt.Errorf("%w: %v", ErrHandlerFailure, err)).Warn("simwire: handler returned error")
	}
}
