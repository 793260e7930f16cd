package dispatch

import (
	"context"

	"go.uber.org/zap"

	"kalm/pkg/metrics"
	"kalm/pkg/peers"
	"kalm/pkg/protocol"
	"kalm/pkg/transport"
)

// HandleRequest decodes one inbound frame and hands it to the handlers of the
// peer that sent it. It reports whether a handler ran. Frames that cannot be
// decoded, carry no meta block or reach a peer without handlers are dropped.
func (d *Dispatcher) HandleRequest(req transport.Request) bool {
	d.stats.received.Add(1)
	metrics.IncFramesReceived()

	env, err := protocol.Decode(d.codec, req.Data)
	if err != nil {
		d.drop(metrics.DropUndecodable)
		zap.L().Warn("dropping undecodable frame", zap.String("adapter", req.Adapter), zap.Stringer("remote", remote(req)), zap.Error(err))
		return false
	}
	env.Origin.Adapter = req.Adapter

	if !env.Routable() {
		d.drop(metrics.DropUnrouted)
		zap.L().Debug("dropping message without meta", zap.String("adapter", req.Adapter), zap.Stringer("remote", remote(req)))
		return false
	}
	reg := d.peers.Load()
	if reg == nil {
		d.drop(metrics.DropUnrouted)
		zap.L().Debug("dropping message, no peer registry", zap.String("session", env.Meta.SessionID))
		return false
	}

	p := reg.Find(env.Meta.SessionID, env.Origin, true)
	metrics.SetPeerCount(reg.Len())
	p.Bind(req.Socket)

	reply := func(ctx context.Context, payload any) error {
		s, err := p.Socket(ctx)
		if err != nil {
			return err
		}
		return d.Send(ctx, p, payload, s)
	}
	if !d.dispatch(p, env, reply) {
		d.drop(metrics.DropUnhandled)
		zap.L().Debug("no handler for peer", zap.Stringer("peer", p))
		return false
	}
	d.stats.dispatched.Add(1)
	metrics.IncDispatched()
	return true
}

func (d *Dispatcher) dispatch(p *peers.Peer, env protocol.Envelope, reply peers.ReplyFunc) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("peer handler panicked", zap.Stringer("peer", p), zap.Any("panic", r))
			handled = true
		}
	}()
	return p.Dispatch(env, reply)
}

func (d *Dispatcher) drop(reason metrics.DropReason) {
	if c := d.stats.dropped(reason); c != nil {
		c.Add(1)
	}
	metrics.IncDropped(reason)
}

type addrString string

func (a addrString) String() string { return string(a) }

func remote(req transport.Request) addrString {
	if req.Remote == nil {
		return "unknown"
	}
	return addrString(req.Remote.String())
}
