package metrics

import "testing"

func TestDroppedByReason(t *testing.T) {
	before := Snapshot()
	IncDropped(DropUnrouted)
	IncDropped(DropUnrouted)
	IncDropped(DropUnhandled)
	IncDropped(DropReason("something-else"))
	after := Snapshot()
	if d := after["kalm_dropped_unrouted_total"] - before["kalm_dropped_unrouted_total"]; d != 2 {
		t.Fatalf("unrouted delta: %d", d)
	}
	if d := after["kalm_dropped_unhandled_total"] - before["kalm_dropped_unhandled_total"]; d != 1 {
		t.Fatalf("unhandled delta: %d", d)
	}
	if d := after["kalm_dropped_undecodable_total"] - before["kalm_dropped_undecodable_total"]; d != 0 {
		t.Fatalf("undecodable delta: %d", d)
	}
}

func TestGauges(t *testing.T) {
	SetAdaptersActive(3)
	SetPeerCount(7)
	s := Snapshot()
	if s["kalm_adapters_active"] != 3 || s["kalm_peer_count"] != 7 {
		t.Fatalf("snapshot: %v", s)
	}
}
