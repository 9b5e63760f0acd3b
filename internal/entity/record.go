package entity

import "time"

// TransferRecord is one row of the transferred ledger. The set of digests
// across all rows forms the dedup index: content with a known digest is never
// transferred again, regardless of path or name changes.
type TransferRecord struct {
	OriginalPath string
	UploadName   string // Name the file was uploaded under (after prefix/suffix)
	Size         int64
	ModTime      time.Time
	UploadedAt   time.Time
	Digest       string
	MetadataJSON string // Full metadata payload sent with the upload
}

// RejectRecord is one row of the rejected ledger. Purely an audit trail,
// never consulted for dedup decisions.
type RejectRecord struct {
	Path     string
	Reason   string
	Size     int64
	ModTime  time.Time
	LoggedAt time.Time
}
