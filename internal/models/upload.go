package models

import "time"

// DefaultFilename and DefaultMimeType are used when creation metadata omits them.
const (
	DefaultFilename = "unknown"
	DefaultMimeType = "application/octet-stream"
)

// Metadata holds the key/value pairs a client supplied at creation.
// A nil Metadata means the client sent none, which is distinct from an empty map.
type Metadata map[string]string

// Clone returns a copy of m, preserving nil.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Upload represents a single resumable upload session.
type Upload struct {
	ID                string     `json:"id"`
	UploadID          string     `json:"uploadId"`
	Filename          string     `json:"filename"`
	MimeType          string     `json:"mimeType"`
	Size              int64      `json:"size"`
	Offset            int64      `json:"offset"`
	Metadata          Metadata   `json:"metadata"`
	StoragePath       string     `json:"storagePath"`
	Completed         bool       `json:"completed"`
	CompleteTime      *time.Time `json:"completeTime,omitempty"`
	CreateTime        time.Time  `json:"createTime"`
	ExpiredTime       time.Time  `json:"expiredTime"`
	Checksum          string     `json:"checksum,omitempty"`
	ChecksumAlgorithm string     `json:"checksumAlgorithm,omitempty"`

	// Version is bumped by the session store on every save and is used to
	// reject a write based on a stale copy of the record.
	Version int64 `json:"version"`
}

// IsExpired reports whether the session's deadline lies before now.
func (u *Upload) IsExpired(now time.Time) bool {
	return u.ExpiredTime.Before(now)
}

// Remaining returns how many bytes are still expected.
func (u *Upload) Remaining() int64 {
	return u.Size - u.Offset
}

// Progress returns the received fraction in [0, 1]. Zero-length uploads report 0.
func (u *Upload) Progress() float64 {
	if u.Size == 0 {
		return 0
	}
	return float64(u.Offset) / float64(u.Size)
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (u *Upload) Clone() *Upload {
	if u == nil {
		return nil
	}
	c := *u
	c.Metadata = u.Metadata.Clone()
	if u.CompleteTime != nil {
		t := *u.CompleteTime
		c.CompleteTime = &t
	}
	return &c
}
