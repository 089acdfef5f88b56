package engine

import "github.com/shelfstore/shelfstore/internal/metadata"

// putBranch describes how a write mutates a version chain under the bucket's
// versioning mode.
type putBranch int

const (
	// putOverwriteNull overwrites or creates the "null" slot; other chain
	// records keep their position and the write exposes no version ID.
	putOverwriteNull putBranch = iota
	// putAppendVersion archives the current record and appends a new one
	// under a freshly minted version ID.
	putAppendVersion
)

// deleteBranch describes how an unversioned delete mutates a version chain.
type deleteBranch int

const (
	// deleteRemove removes the object record entirely; nothing is retained.
	deleteRemove deleteBranch = iota
	// deleteAppendMarker archives the current record and appends a delete
	// marker under a fresh version ID.
	deleteAppendMarker
	// deleteReplaceNullWithMarker removes the "null"-slot content record,
	// if any, and writes a delete marker into the "null" slot.
	deleteReplaceNullWithMarker
)

// putBranchFor returns the write branch for a bucket versioning mode.
func putBranchFor(mode string) putBranch {
	if mode == metadata.VersioningEnabled {
		return putAppendVersion
	}
	return putOverwriteNull
}

// deleteBranchFor returns the unversioned-delete branch for a bucket
// versioning mode. Deletes naming an explicit version ID bypass the policy
// and operate on the chain directly.
func deleteBranchFor(mode string) deleteBranch {
	switch mode {
	case metadata.VersioningEnabled:
		return deleteAppendMarker
	case metadata.VersioningSuspended:
		return deleteReplaceNullWithMarker
	default:
		return deleteRemove
	}
}
