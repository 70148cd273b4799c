// Package client rebuilds a session snapshot from the updates the trainer
// sends and tells the server which version it holds.
package client

import (
	"encoding/json"
	"sync"

	apperrors "github.com/louisbranch/mindtrain/internal/platform/errors"
	"github.com/louisbranch/mindtrain/internal/services/trainer/app/transport"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/delta"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// ErrChecksumMismatch reports a record whose result does not hash to the
// checksum the server sent.
var ErrChecksumMismatch = apperrors.New(apperrors.CodeVersionMismatch, "reconstructed snapshot checksum mismatch")

// ReplyKind says what the reconciler wants to tell the server.
type ReplyKind string

const (
	// ReplyNone means the record changed nothing worth acknowledging.
	ReplyNone ReplyKind = ""
	// ReplyAck acknowledges Version as applied.
	ReplyAck ReplyKind = transport.FrameAck
	// ReplyResync asks for an update based on Version.
	ReplyResync ReplyKind = transport.FrameResync
)

// Reply is the frame the reconciler wants sent after a record.
type Reply struct {
	Kind    ReplyKind
	Version uint64
}

// Frame renders the reply as a websocket frame. ReplyNone has no frame.
func (r Reply) Frame() (transport.Frame, bool) {
	var payload any
	switch r.Kind {
	case ReplyAck:
		payload = transport.AckPayload{Version: r.Version}
	case ReplyResync:
		payload = transport.ResyncPayload{BaseVersion: r.Version}
	default:
		return transport.Frame{}, false
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return transport.Frame{}, false
	}
	return transport.Frame{Type: string(r.Kind), Payload: raw}, true
}

// Reconciler holds the last snapshot rebuilt from server records.
type Reconciler struct {
	mu      sync.Mutex
	current snapshot.Snapshot
	applied bool
}

// NewReconciler returns a reconciler holding no snapshot.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Snapshot returns the last reconstructed snapshot and whether one exists.
func (r *Reconciler) Snapshot() (snapshot.Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current.Clone(), r.applied
}

// Version is the version the reconciler holds, zero before the first
// record.
func (r *Reconciler) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.applied {
		return 0
	}
	return r.current.Version
}

// Apply folds rec into the held snapshot. A record for another base, or one
// whose checksum does not match, leaves the snapshot untouched and asks for
// a resync: from the held version on a base mismatch, from zero (a full
// record) when the held snapshot has diverged.
func (r *Reconciler) Apply(rec delta.Record) (Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec.Empty() {
		return Reply{}, nil
	}
	if r.applied && (rec.ToVersion < r.current.Version || (!rec.Full && rec.ToVersion == r.current.Version)) {
		// Already folded in through a later record. A full record for the
		// held version is still applied: it repairs a diverged snapshot.
		return Reply{}, nil
	}
	if !rec.Full && (!r.applied || rec.FromVersion != r.current.Version) {
		return Reply{Kind: ReplyResync, Version: r.version()}, delta.ErrVersionMismatch
	}

	next, err := delta.Apply(r.current, rec)
	if err != nil {
		return Reply{Kind: ReplyResync, Version: r.version()}, err
	}
	if !delta.Verify(next, rec) {
		return Reply{Kind: ReplyResync}, ErrChecksumMismatch
	}
	r.current = next
	r.applied = true
	return Reply{Kind: ReplyAck, Version: next.Version}, nil
}

// Reset forgets the held snapshot.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = snapshot.Snapshot{}
	r.applied = false
}

func (r *Reconciler) version() uint64 {
	if !r.applied {
		return 0
	}
	return r.current.Version
}
