package metrics

import "expvar"

var (
	framesReceived   = expvar.NewInt("kalm_frames_received_total")
	framesSent       = expvar.NewInt("kalm_frames_sent_total")
	sendErrors       = expvar.NewInt("kalm_send_errors_total")
	droppedBadFrame  = expvar.NewInt("kalm_dropped_undecodable_total")
	droppedUnrouted  = expvar.NewInt("kalm_dropped_unrouted_total")
	droppedUnhandled = expvar.NewInt("kalm_dropped_unhandled_total")
	dispatched       = expvar.NewInt("kalm_dispatched_total")
	adaptersActive   = expvar.NewInt("kalm_adapters_active")
	peerCount        = expvar.NewInt("kalm_peer_count")
)

func IncFramesReceived() { framesReceived.Add(1) }

func IncFramesSent() { framesSent.Add(1) }

func IncSendErrors() { sendErrors.Add(1) }

// DropReason names why an inbound frame was not delivered.
type DropReason string

const (
	DropUndecodable DropReason = "undecodable"
	DropUnrouted    DropReason = "unrouted"
	DropUnhandled   DropReason = "unhandled"
)

// IncDropped counts a dropped inbound frame. Unknown reasons are ignored.
func IncDropped(reason DropReason) {
	if c := droppedBy(reason); c != nil {
		c.Add(1)
	}
}

func droppedBy(reason DropReason) *expvar.Int {
	switch reason {
	case DropUndecodable:
		return droppedBadFrame
	case DropUnrouted:
		return droppedUnrouted
	case DropUnhandled:
		return droppedUnhandled
	}
	return nil
}

func IncDispatched() { dispatched.Add(1) }

// SetAdaptersActive records how many adapters are listening.
func SetAdaptersActive(n int) { adaptersActive.Set(int64(n)) }

// SetPeerCount sets the current known peer count.
func SetPeerCount(n int) { peerCount.Set(int64(n)) }

// Snapshot returns the current counter values keyed by expvar name.
func Snapshot() map[string]int64 {
	out := make(map[string]int64, 9)
	for _, v := range []*expvar.Int{
		framesReceived, framesSent, sendErrors,
		droppedBadFrame, droppedUnrouted, droppedUnhandled,
		dispatched, adaptersActive, peerCount,
	} {
		out[name(v)] = v.Value()
	}
	return out
}

func name(v *expvar.Int) string {
	var n string
	expvar.Do(func(kv expvar.KeyValue) {
		if kv.Value == v {
			n = kv.Key
		}
	})
	return n
}
