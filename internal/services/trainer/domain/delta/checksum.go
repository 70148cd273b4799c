package delta

import (
	"github.com/cespare/xxhash/v2"
	"github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"
)

// Checksum hashes the canonical encoding of s. A client that reconstructs the
// same snapshot computes the same value.
func Checksum(s snapshot.Snapshot) uint64 {
	data, err := s.Canonical()
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

// Verify reports whether s matches the checksum carried by rec. Records
// without a checksum always verify.
func Verify(s snapshot.Snapshot, rec Record) bool {
	if rec.Checksum == 0 {
		return true
	}
	return Checksum(s) == rec.Checksum
}
