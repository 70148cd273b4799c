package client

import (
	"errors"
	"testing"

	"github.com/louisbranch/mindtrain/internal/services/trainer/app/transport"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/difficulty"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

func snapshotAt(version uint64, phase snapshot.Phase, level float64) snapshot.Snapshot {
	return snapshot.Snapshot{
		Version: version,
		Phase:   phase,
		Payload: map[string]any{"exercise": "echo", "level": level},
		Difficulty: map[string]difficulty.State{
			"memory": {Level: int(level), Score: 0.5},
		},
	}
}

func mustDiff(t *testing.T, base, next snapshot.Snapshot) delta.Record {
	t.Helper()
	rec, err := delta.Diff(base, next)
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	return rec
}

func TestReconcilerAppliesFullThenDiff(t *testing.T) {
	r := NewReconciler()
	v1 := snapshotAt(1, snapshot.PhasePreparation, 1)
	v2 := snapshotAt(2, snapshot.PhaseActive, 1)

	reply, err := r.Apply(delta.Full(v1))
	if err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if reply != (Reply{Kind: ReplyAck, Version: 1}) {
		t.Fatalf("reply = %+v, want ack 1", reply)
	}

	reply, err = r.Apply(mustDiff(t, v1, v2))
	if err != nil {
		t.Fatalf("apply diff: %v", err)
	}
	if reply != (Reply{Kind: ReplyAck, Version: 2}) {
		t.Fatalf("reply = %+v, want ack 2", reply)
	}
	got, ok := r.Snapshot()
	if !ok || !snapshot.Equal(got, v2) {
		t.Fatalf("snapshot = %+v, want %+v", got, v2)
	}
}

func TestReconcilerRequestsResyncOnBaseMismatch(t *testing.T) {
	r := NewReconciler()
	v1 := snapshotAt(1, snapshot.PhasePreparation, 1)
	v2 := snapshotAt(2, snapshot.PhaseActive, 1)
	v3 := snapshotAt(3, snapshot.PhaseFeedback, 1)
	if _, err := r.Apply(delta.Full(v1)); err != nil {
		t.Fatalf("apply full: %v", err)
	}

	reply, err := r.Apply(mustDiff(t, v2, v3))
	if !errors.Is(err, delta.ErrVersionMismatch) {
		t.Fatalf("err = %v, want version mismatch", err)
	}
	if reply != (Reply{Kind: ReplyResync, Version: 1}) {
		t.Fatalf("reply = %+v, want resync from 1", reply)
	}
	if r.Version() != 1 {
		t.Fatalf("version = %d, want 1", r.Version())
	}
}

func TestReconcilerDiffBeforeFullRequestsResync(t *testing.T) {
	r := NewReconciler()
	v1 := snapshotAt(1, snapshot.PhasePreparation, 1)
	v2 := snapshotAt(2, snapshot.PhaseActive, 1)

	reply, err := r.Apply(mustDiff(t, v1, v2))
	if err == nil {
		t.Fatal("expected error")
	}
	if reply != (Reply{Kind: ReplyResync, Version: 0}) {
		t.Fatalf("reply = %+v, want resync from 0", reply)
	}
}

func TestReconcilerChecksumMismatchKeepsSnapshot(t *testing.T) {
	r := NewReconciler()
	v1 := snapshotAt(1, snapshot.PhasePreparation, 1)
	v2 := snapshotAt(2, snapshot.PhaseActive, 1)
	if _, err := r.Apply(delta.Full(v1)); err != nil {
		t.Fatalf("apply full: %v", err)
	}

	rec := mustDiff(t, v1, v2)
	rec.Checksum++
	reply, err := r.Apply(rec)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("err = %v, want checksum mismatch", err)
	}
	if reply.Kind != ReplyResync || reply.Version != 0 {
		t.Fatalf("reply = %+v, want full resync", reply)
	}
	got, _ := r.Snapshot()
	if !snapshot.Equal(got, v1) {
		t.Fatalf("snapshot changed after bad checksum: %+v", got)
	}
}

func TestReconcilerIgnoresOldAndEmptyRecords(t *testing.T) {
	r := NewReconciler()
	v1 := snapshotAt(1, snapshot.PhasePreparation, 1)
	v2 := snapshotAt(2, snapshot.PhaseActive, 1)
	if _, err := r.Apply(delta.Full(v1)); err != nil {
		t.Fatalf("apply full: %v", err)
	}
	if _, err := r.Apply(mustDiff(t, v1, v2)); err != nil {
		t.Fatalf("apply diff: %v", err)
	}

	reply, err := r.Apply(mustDiff(t, v1, v2))
	if err != nil || reply.Kind != ReplyNone {
		t.Fatalf("duplicate = %+v, %v; want ignored", reply, err)
	}
	reply, err = r.Apply(delta.Record{FromVersion: 2, ToVersion: 2})
	if err != nil || reply.Kind != ReplyNone {
		t.Fatalf("empty = %+v, %v; want ignored", reply, err)
	}
	// A full record overtaken in flight must not roll the snapshot back.
	reply, err = r.Apply(delta.Full(v1))
	if err != nil || reply.Kind != ReplyNone {
		t.Fatalf("late full = %+v, %v; want ignored", reply, err)
	}
	if r.Version() != 2 {
		t.Fatalf("version = %d, want 2", r.Version())
	}
}

func TestReplyFrame(t *testing.T) {
	frame, ok := Reply{Kind: ReplyAck, Version: 4}.Frame()
	if !ok || frame.Type != transport.FrameAck || string(frame.Payload) != `{"version":4}` {
		t.Fatalf("ack frame = %s %s", frame.Type, frame.Payload)
	}
	frame, ok = Reply{Kind: ReplyResync, Version: 2}.Frame()
	if !ok || frame.Type != transport.FrameResync || string(frame.Payload) != `{"base_version":2}` {
		t.Fatalf("resync frame = %s %s", frame.Type, frame.Payload)
	}
	if _, ok := (Reply{}).Frame(); ok {
		t.Fatal("expected no frame for empty reply")
	}
}
