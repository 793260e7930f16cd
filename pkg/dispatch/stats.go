package dispatch

import (
	"sync/atomic"

	"kalm/pkg/metrics"
)

type counters struct {
	received    atomic.Int64
	sent        atomic.Int64
	sendErrors  atomic.Int64
	undecodable atomic.Int64
	unrouted    atomic.Int64
	unhandled   atomic.Int64
	dispatched  atomic.Int64
}

func (c *counters) dropped(reason metrics.DropReason) *atomic.Int64 {
	switch reason {
	case metrics.DropUndecodable:
		return &c.undecodable
	case metrics.DropUnrouted:
		return &c.unrouted
	case metrics.DropUnhandled:
		return &c.unhandled
	}
	return nil
}

// Stats counts frames seen by one Dispatcher.
type Stats struct {
	Received    int64
	Sent        int64
	SendErrors  int64
	Undecodable int64
	Unrouted    int64
	Unhandled   int64
	Dispatched  int64
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:    d.stats.received.Load(),
		Sent:        d.stats.sent.Load(),
		SendErrors:  d.stats.sendErrors.Load(),
		Undecodable: d.stats.undecodable.Load(),
		Unrouted:    d.stats.unrouted.Load(),
		Unhandled:   d.stats.unhandled.Load(),
		Dispatched:  d.stats.dispatched.Load(),
	}
}
