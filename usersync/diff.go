package usersync

import (
	"maps"
	"slices"
)

// Diff compares the source and destination snapshots by membership key.
// ToAdd holds keys only in source, ToRemove keys only in destination, both ascending.
func Diff(source MembershipSnapshot, destination MembershipSnapshot) *SyncDiff {
	var toAdd = snapshotKeys(source)
	toAdd.Difference(snapshotKeys(destination).ToArray())

	var toRemove = snapshotKeys(destination)
	toRemove.Difference(snapshotKeys(source).ToArray())

	return &SyncDiff{
		ToAdd:    SortedKeys(toAdd),
		ToRemove: SortedKeys(toRemove),
	}
}

// IsEmpty reports whether the two snapshots already converged.
func (d *SyncDiff) IsEmpty() bool {
	return d == nil || (len(d.ToAdd) == 0 && len(d.ToRemove) == 0)
}

func snapshotKeys(snapshot MembershipSnapshot) Set[MembershipKey] {
	return MakeSet(slices.Collect(maps.Keys(snapshot)))
}
