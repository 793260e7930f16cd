package dispatch

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kalm/pkg/metrics"
	"kalm/pkg/peers"
	"kalm/pkg/protocol"
	"kalm/pkg/transport"
)

// Send wraps payload in a new envelope and writes it to p over sock, or over
// a fresh socket when sock is nil. A socket created here is bound to p; a
// socket that fails to send is released from p so the next send re-dials.
func (d *Dispatcher) Send(ctx context.Context, p *peers.Peer, payload any, sock transport.Socket) error {
	name := p.Adapter()
	a, ok := d.Adapter(name)
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownTransport, name)
	}

	env := protocol.Envelope{
		Origin:  protocol.Origin{Host: d.sys.Location, Port: d.localPort(name, a)},
		Meta:    &protocol.Meta{SessionID: p.Label(), ProcessID: d.sys.PID},
		Payload: payload,
	}
	frame, err := protocol.Encode(d.codec, env)
	if err != nil {
		return err
	}

	used, err := a.Send(ctx, p, frame, sock)
	if err != nil {
		d.stats.sendErrors.Add(1)
		metrics.IncSendErrors()
		if used != nil {
			p.Release(used)
		}
		zap.L().Debug("send failed", zap.Stringer("peer", p), zap.Error(err))
		return fmt.Errorf("send to %s: %w", p, err)
	}
	if sock == nil {
		p.Bind(used)
	}
	d.stats.sent.Add(1)
	metrics.IncFramesSent()
	return nil
}

// localPort is the port peers should answer on: the bound listening port, or
// the configured one when the transport has no numeric address.
func (d *Dispatcher) localPort(name string, a transport.Adapter) int {
	if p := transport.PortOf(a.Addr()); p != 0 {
		return p
	}
	return d.cfg.Adapters[name].Port
}
