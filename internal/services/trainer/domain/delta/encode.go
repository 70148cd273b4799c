package delta

import "github.com/louisbranch/mindtrain/internal/services/trainer/domain/snapshot"

// Encode produces the record a client holding baseVersion needs to reach
// current: a diff when history still retains that base, otherwise a Full
// record. A client already at current gets an empty record.
func Encode(h *History, baseVersion uint64, current snapshot.Snapshot) (Record, error) {
	if baseVersion == current.Version {
		return Record{FromVersion: baseVersion, ToVersion: baseVersion, Checksum: Checksum(current)}, nil
	}
	if baseVersion == 0 || baseVersion > current.Version || h == nil {
		return Full(current), nil
	}
	base, ok := h.Get(baseVersion)
	if !ok {
		return Full(current), nil
	}
	return Diff(base, current)
}
