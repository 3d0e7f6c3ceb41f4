package upload

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tus-upload-server/backend/internal/models"
	"github.com/tus-upload-server/backend/internal/session"
	"github.com/tus-upload-server/backend/internal/storage"
)

const (
	// DefaultRetentionWindow is how long a session stays valid after creation.
	DefaultRetentionWindow = 7 * 24 * time.Hour

	// DefaultPathPrefix is the blob key prefix for upload contents.
	DefaultPathPrefix = "tus"

	// UploadIDLength is the length of the hex upload ID (128 bits).
	UploadIDLength = 32

	createAttempts = 3
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	RetentionWindow time.Duration
	PathPrefix      string
	Now             func() time.Time
	Logger          logrus.FieldLogger
}

// Engine owns the upload state machine: creation, chunk appends, checksum
// validation, expiry and deletion. Writes to the same upload ID are serialized
// in-process; the session repository's version check rejects writers racing
// from other processes.
type Engine struct {
	sessions  session.Repository
	blobs     storage.BlobStore
	locks     *locker
	retention time.Duration
	prefix    string
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewEngine creates an engine over the given session and blob stores.
func NewEngine(sessions session.Repository, blobs storage.BlobStore, opts Options) *Engine {
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = DefaultRetentionWindow
	}
	if opts.PathPrefix == "" {
		opts.PathPrefix = DefaultPathPrefix
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Engine{
		sessions:  sessions,
		blobs:     blobs,
		locks:     newLocker(),
		retention: opts.RetentionWindow,
		prefix:    opts.PathPrefix,
		now:       opts.Now,
		log:       opts.Logger.WithField("component", "upload"),
	}
}

// NewUploadID returns 16 random bytes rendered as 32 lowercase hex characters.
func NewUploadID() (string, error) {
	b := make([]byte, UploadIDLength/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// StoragePath derives the blob key for an upload ID.
func (e *Engine) StoragePath(uploadID string) string {
	return path.Join(e.prefix, uploadID)
}

// CreateSession registers a new upload of size bytes. Empty filename or
// mimeType fall back to the model defaults. A zero-length upload is complete
// as soon as it exists.
func (e *Engine) CreateSession(ctx context.Context, filename, mimeType string, size int64, metadata models.Metadata) (*models.Upload, error) {
	if size < 0 {
		return nil, newError(KindDataExceedsSize, "upload size must not be negative")
	}
	if filename == "" {
		filename = models.DefaultFilename
	}
	if mimeType == "" {
		mimeType = models.DefaultMimeType
	}

	for attempt := 1; ; attempt++ {
		uploadID, err := NewUploadID()
		if err != nil {
			return nil, internalError("generating upload id", err)
		}

		now := e.now()
		u := &models.Upload{
			ID:          uuid.NewString(),
			UploadID:    uploadID,
			Filename:    filename,
			MimeType:    mimeType,
			Size:        size,
			Metadata:    metadata.Clone(),
			StoragePath: e.StoragePath(uploadID),
			CreateTime:  now,
			ExpiredTime: now.Add(e.retention),
		}
		if size == 0 {
			u.Completed = true
			u.CompleteTime = &now
		}

		err = e.sessions.Save(ctx, u)
		if errors.Is(err, session.ErrConflict) && attempt < createAttempts {
			continue
		}
		if err != nil {
			return nil, internalError("saving new session", err)
		}

		e.log.WithFields(logrus.Fields{
			"upload_id": u.UploadID,
			"size":      u.Size,
			"filename":  u.Filename,
		}).Info("upload session created")
		return u, nil
	}
}

// GetSession loads a session. A session past its deadline is deleted and
// reported as Expired.
func (e *Engine) GetSession(ctx context.Context, uploadID string) (*models.Upload, error) {
	u, err := e.sessions.FindByID(ctx, uploadID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, newError(KindNotFound, "upload not found")
	}
	if err != nil {
		return nil, internalError("loading session", err)
	}

	if u.IsExpired(e.now()) {
		if err := e.DeleteSession(ctx, u); err != nil {
			e.log.WithError(err).WithField("upload_id", uploadID).Warn("failed to delete expired session")
		} else {
			e.log.WithField("upload_id", uploadID).Info("expired session deleted on access")
		}
		return nil, newError(KindExpired, "upload expired")
	}
	return u, nil
}

// WriteChunk appends data at offset. Validation runs against the latest stored
// record, not the caller's copy, while holding the lock for the upload ID.
//
// The blob is rewritten whole on every call: existing bytes are read,
// truncated to the stored offset, extended with data and written back. Cost is
// quadratic in the number of chunks.
func (e *Engine) WriteChunk(ctx context.Context, u *models.Upload, data []byte, offset int64) (*models.Upload, error) {
	unlock, err := e.locks.Lock(ctx, u.UploadID)
	if err != nil {
		return nil, internalError("waiting for upload lock", err)
	}
	defer unlock()

	current, err := e.sessions.FindByID(ctx, u.UploadID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, newError(KindNotFound, "upload not found")
	}
	if err != nil {
		return nil, internalError("loading session", err)
	}

	if current.Completed {
		return nil, newError(KindAlreadyCompleted, "upload already completed")
	}
	if offset != current.Offset {
		return nil, newError(KindInvalidOffset, fmt.Sprintf("invalid offset: expected %d, got %d", current.Offset, offset))
	}
	if offset+int64(len(data)) > current.Size {
		return nil, newError(KindDataExceedsSize, "data exceeds upload size")
	}

	existing, err := e.blobs.Read(current.StoragePath)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		if current.Offset > 0 {
			return nil, newError(KindInternal, "storage path missing")
		}
		existing = nil
	case err != nil:
		return nil, internalError("reading blob", err)
	}
	if int64(len(existing)) < current.Offset {
		return nil, newError(KindInternal, "stored content shorter than offset")
	}

	buf := make([]byte, 0, current.Offset+int64(len(data)))
	buf = append(buf, existing[:current.Offset]...)
	buf = append(buf, data...)
	if err := e.blobs.Write(current.StoragePath, buf); err != nil {
		return nil, internalError("writing blob", err)
	}

	current.Offset += int64(len(data))
	if current.Offset == current.Size && !current.Completed {
		now := e.now()
		current.Completed = true
		current.CompleteTime = &now
	}

	err = e.sessions.Save(ctx, current)
	if errors.Is(err, session.ErrConflict) {
		return nil, newError(KindConflict, "upload was modified concurrently")
	}
	if err != nil {
		return nil, internalError("saving session", err)
	}

	fields := logrus.Fields{
		"upload_id": current.UploadID,
		"offset":    current.Offset,
		"size":      current.Size,
	}
	if current.Completed {
		e.log.WithFields(fields).Info("upload completed")
	} else {
		e.log.WithFields(fields).Debug("chunk written")
	}
	return current, nil
}

// DeleteSession removes the blob (if any) and the session record.
func (e *Engine) DeleteSession(ctx context.Context, u *models.Upload) error {
	unlock, err := e.locks.Lock(ctx, u.UploadID)
	if err != nil {
		return internalError("waiting for upload lock", err)
	}
	defer unlock()

	return e.remove(ctx, u)
}

// remove deletes the blob best-effort and always removes the record.
// Callers hold the lock for u.UploadID.
func (e *Engine) remove(ctx context.Context, u *models.Upload) error {
	log := e.log.WithField("upload_id", u.UploadID)

	exists, err := e.blobs.Exists(u.StoragePath)
	if err != nil {
		log.WithError(err).Warn("failed to stat blob")
	}
	if exists {
		if err := e.blobs.Delete(u.StoragePath); err != nil {
			log.WithError(err).Warn("failed to delete blob")
		}
	}

	if err := e.sessions.Remove(ctx, u.UploadID); err != nil {
		return internalError("removing session", err)
	}
	return nil
}

// ValidateChecksum reports whether the stored content hashes to digest under
// algorithm. A missing blob or an unknown algorithm yields false.
func (e *Engine) ValidateChecksum(u *models.Upload, digest []byte, algorithm string) bool {
	if !IsSupportedChecksum(algorithm) {
		return false
	}

	data, err := e.blobs.Read(u.StoragePath)
	if err != nil {
		if !errors.Is(err, storage.ErrNotExist) {
			e.log.WithError(err).WithField("upload_id", u.UploadID).Warn("failed to read blob for checksum")
		}
		return false
	}

	sum, _ := Digest(algorithm, data)
	return bytes.Equal(sum, digest)
}

// CleanupExpiredSessions deletes every session past its deadline and returns
// how many were removed. Failures on individual sessions are logged and skipped.
func (e *Engine) CleanupExpiredSessions(ctx context.Context) (int, error) {
	expired, err := e.sessions.FindExpired(ctx, e.now())
	if err != nil {
		return 0, internalError("finding expired sessions", err)
	}

	deleted := 0
	for _, u := range expired {
		unlock, err := e.locks.Lock(ctx, u.UploadID)
		if err != nil {
			return deleted, internalError("waiting for upload lock", err)
		}
		err = e.remove(ctx, u)
		unlock()
		if err != nil {
			e.log.WithError(err).WithField("upload_id", u.UploadID).Warn("failed to delete expired session")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		e.log.WithField("deleted", deleted).Info("expired sessions cleaned up")
	}
	return deleted, nil
}

// ReadCompletedContent returns the full content of a completed upload.
func (e *Engine) ReadCompletedContent(u *models.Upload) ([]byte, error) {
	if !u.Completed {
		return nil, newError(KindNotCompleted, "upload not completed")
	}

	data, err := e.blobs.Read(u.StoragePath)
	if errors.Is(err, storage.ErrNotExist) {
		// zero-length uploads never receive a write
		if u.Size == 0 {
			return []byte{}, nil
		}
		return nil, newError(KindFileMissing, "file not found")
	}
	if err != nil {
		return nil, internalError("reading blob", err)
	}
	return data, nil
}

// ListIncomplete returns sessions that have not received all their bytes.
func (e *Engine) ListIncomplete(ctx context.Context) ([]*models.Upload, error) {
	list, err := e.sessions.FindIncomplete(ctx)
	if err != nil {
		return nil, internalError("listing incomplete sessions", err)
	}
	return list, nil
}
