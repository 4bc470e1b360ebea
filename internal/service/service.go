// Package service implements the access controller: the lifecycle of a
// shareable link from creation through consumption, download, deletion, and
// expiry. It owns every rule with a race in it; transport and storage are
// collaborators behind interfaces.
package service

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/linkvault/linkvault/internal/blob"
	"github.com/linkvault/linkvault/internal/metrics"
	"github.com/linkvault/linkvault/internal/model"
	"github.com/linkvault/linkvault/internal/store"
	"github.com/linkvault/linkvault/internal/token"
)

// FileViewConsumesQuota records the product decision of whether a metadata
// view of a file link spends an access slot. It does not: views of file
// links are free and only the byte download spends quota, so a client can
// inspect the file name without burning the only download.
const FileViewConsumesQuota = false

const (
	// DefaultTTL applies when the creator gives no (or a non-positive)
	// lifetime.
	DefaultTTL = 10 * time.Minute

	maxFileNameLen = 255
	maxIDAttempts  = 5
)

// deniedExtensions rejects obviously executable payload names at creation.
var deniedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".msi": true, ".ps1": true, ".vbs": true,
}

// PurgeQueue defers blob deletions that outlived the adapter's retry budget.
type PurgeQueue interface {
	EnqueuePurge(ctx context.Context, linkID, objectKey string) error
}

// Service is the access controller.
type Service struct {
	records store.RecordStore
	blobs   blob.Store
	purge   PurgeQueue
	log     zerolog.Logger
	ttl     time.Duration
	now     func() time.Time
}

// Options tune the service. Zero values fall back to defaults; Purge may be
// nil, in which case failed blob deletions are only logged.
type Options struct {
	DefaultTTL time.Duration
	Purge      PurgeQueue
	Logger     zerolog.Logger
	Clock      func() time.Time
}

// New constructs the service.
func New(records store.RecordStore, blobs blob.Store, opts Options) *Service {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		records: records,
		blobs:   blobs,
		purge:   opts.Purge,
		log:     opts.Logger,
		ttl:     opts.DefaultTTL,
		now:     opts.Clock,
	}
}

// FileUpload describes a staged file payload. Reader should be seekable so
// the blob adapter can retry the upload.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// CreateInput carries a create request. Exactly one of Text or File must be
// set.
type CreateInput struct {
	Text          string
	File          *FileUpload
	Password      string
	BurnAfterRead bool
	MaxAccess     *int
	ExpiresIn     time.Duration
	OwnerID       string
}

// CreateResult returns the public handle and the secrets the creator needs.
type CreateResult struct {
	ID          string    `json:"id"`
	DeleteToken string    `json:"deleteToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Create validates the input, uploads the blob first for file links, and
// persists the metadata record. The temp-staged payload is the caller's to
// clean up; the blob is this service's.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	hasText := strings.TrimSpace(in.Text) != ""
	if hasText == (in.File != nil) {
		return nil, invalidf("provide either text or a file, exactly one")
	}
	if in.File != nil {
		if err := validateFileName(in.File.Name); err != nil {
			return nil, err
		}
	}

	maxAccess, err := normalizeMaxAccess(in.MaxAccess, in.BurnAfterRead)
	if err != nil {
		return nil, err
	}

	var passwordHash string
	if in.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		passwordHash = string(hashed)
	}

	now := s.now().UTC()
	ttl := in.ExpiresIn
	if ttl <= 0 {
		ttl = s.ttl
	}
	expiresAt := now.Add(ttl)
	if expiresAt.Before(now) {
		expiresAt = now
	}

	id, err := s.allocateID(ctx)
	if err != nil {
		return nil, err
	}
	deleteToken, err := token.NewDeleteToken()
	if err != nil {
		return nil, err
	}

	rec := &model.ContentRecord{
		ID:            id,
		PasswordHash:  passwordHash,
		BurnAfterRead: in.BurnAfterRead,
		MaxAccess:     maxAccess,
		OwnerID:       in.OwnerID,
		DeleteToken:   deleteToken,
		CreatedAt:     now,
		ExpiresAt:     expiresAt,
	}
	if in.File != nil {
		rec.Kind = model.KindFile
		rec.ObjectKey = "links/" + id
		rec.FileName = in.File.Name
		rec.ContentType = in.File.ContentType
		rec.Size = in.File.Size
		// Blob first, metadata second. A failed metadata write leaves an
		// orphaned blob that no caller can reach; the purge queue and the
		// reaper reclaim it eventually.
		if err := s.blobs.Upload(ctx, rec.ObjectKey, in.File.Reader, in.File.Size, in.File.ContentType); err != nil {
			return nil, s.mapBlobErr(err)
		}
	} else {
		rec.Kind = model.KindText
		rec.TextContent = in.Text
	}

	if err := s.records.Put(ctx, rec); err != nil {
		if rec.Kind == model.KindFile {
			s.removeBlob(ctx, rec)
		}
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, ErrConflict
		}
		return nil, err
	}

	metrics.LinksCreated.WithLabelValues(string(rec.Kind)).Inc()
	s.log.Info().Str("id", id).Str("kind", string(rec.Kind)).Time("expires_at", expiresAt).
		Msg("link created")
	return &CreateResult{ID: id, DeleteToken: deleteToken, ExpiresAt: expiresAt}, nil
}

// Consume returns the sanitized view of a link. Text links spend one access
// slot here; file links defer their quota spend to Download (see
// FileViewConsumesQuota). Burn-after-read text is destroyed as soon as the
// view is built, so a concurrent second reader gets ErrNotFound.
func (s *Service) Consume(ctx context.Context, id, suppliedPassword string) (*model.View, error) {
	rec, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(rec, suppliedPassword); err != nil {
		return nil, err
	}

	if rec.Kind == model.KindText || FileViewConsumesQuota {
		rec, err = s.spendSlot(ctx, rec)
		if err != nil {
			return nil, err
		}
	}

	view := model.ViewOf(rec)
	if rec.Kind == model.KindText && rec.BurnAfterRead {
		if err := s.records.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error().Err(err).Str("id", id).Msg("burn delete failed")
		}
	}
	metrics.LinksConsumed.WithLabelValues(string(rec.Kind)).Inc()
	return &view, nil
}

// DownloadResult is a live byte stream plus the metadata needed to serve it.
// Body must be closed exactly once; for burn-after-read links closing it
// triggers the one-shot destruction of the record and the blob.
type DownloadResult struct {
	FileName    string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Download streams a file link's bytes, spending one access slot. For
// burn-after-read links the record and blob are destroyed when the stream is
// closed, whether it completed or was abandoned, never before: a failed
// stream must not have silently burned the only copy mid-flight.
func (s *Service) Download(ctx context.Context, id, suppliedPassword string) (*DownloadResult, error) {
	rec, err := s.loadLive(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Kind != model.KindFile {
		return nil, invalidf("link does not carry a file")
	}
	if err := s.checkPassword(rec, suppliedPassword); err != nil {
		return nil, err
	}

	rec, err = s.spendSlot(ctx, rec)
	if err != nil {
		return nil, err
	}

	body, err := s.blobs.Fetch(ctx, rec.ObjectKey)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, ErrNotFound
		}
		return nil, s.mapBlobErr(err)
	}

	if rec.BurnAfterRead {
		burned := rec
		body = &burnOnClose{
			ReadCloser: body,
			cleanup: func() {
				// The request context is gone by the time an abandoned
				// stream closes.
				cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := s.records.Delete(cleanupCtx, burned.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
					s.log.Error().Err(err).Str("id", burned.ID).Msg("burn delete failed")
				}
				s.removeBlob(cleanupCtx, burned)
			},
		}
	}

	metrics.Downloads.Inc()
	return &DownloadResult{
		FileName:    rec.FileName,
		ContentType: rec.ContentType,
		Size:        rec.Size,
		Body:        body,
	}, nil
}

// DeleteCredential authorizes a delete: an authenticated owner identity, a
// presented delete token, or both.
type DeleteCredential struct {
	OwnerID     string
	DeleteToken string
}

// Delete removes a link when the credential matches. Metadata goes first so
// the link is unreachable immediately; the blob follows best-effort.
func (s *Service) Delete(ctx context.Context, id string, cred DeleteCredential) error {
	rec, err := s.loadLive(ctx, id)
	if err != nil {
		return err
	}
	ownerMatch := cred.OwnerID != "" && rec.OwnerID != "" && cred.OwnerID == rec.OwnerID
	if !ownerMatch && !token.Equal(cred.DeleteToken, rec.DeleteToken) {
		return ErrForbidden
	}
	if err := s.records.Delete(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with the reaper or another delete.
			return ErrNotFound
		}
		return err
	}
	s.removeBlob(ctx, rec)
	s.log.Info().Str("id", id).Bool("by_owner", ownerMatch).Msg("link deleted")
	return nil
}

// ListOwned returns the sanitized records of an authenticated owner, newest
// first. Expired records are filtered out even if the reaper has not caught
// up with them yet.
func (s *Service) ListOwned(ctx context.Context, ownerID string) ([]model.View, error) {
	if ownerID == "" {
		return nil, invalidf("owner id required")
	}
	recs, err := s.records.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]model.View, 0, len(recs))
	for _, rec := range recs {
		if rec.Expired(now) {
			continue
		}
		views = append(views, model.ViewOf(rec))
	}
	return views, nil
}

// loadLive fetches a record and enforces expiry at read time, independent of
// the reaper. Dead records are reclaimed lazily on access and reported as
// ErrNotFound, indistinguishable from never-existed.
func (s *Service) loadLive(ctx context.Context, id string) (*model.ContentRecord, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if rec.Expired(s.now()) {
		if err := s.records.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error().Err(err).Str("id", id).Msg("lazy expiry delete failed")
		}
		s.removeBlob(ctx, rec)
		return nil, ErrNotFound
	}
	return rec, nil
}

// spendSlot runs the atomic conditional increment and destroys the record
// when the quota turns out to be exhausted.
func (s *Service) spendSlot(ctx context.Context, rec *model.ContentRecord) (*model.ContentRecord, error) {
	updated, err := s.records.ConsumeSlot(ctx, rec.ID)
	if err == nil {
		return updated, nil
	}
	switch {
	case errors.Is(err, store.ErrQuotaExhausted):
		metrics.QuotaExhausted.Inc()
		if delErr := s.records.Delete(ctx, rec.ID); delErr != nil && !errors.Is(delErr, store.ErrNotFound) {
			s.log.Error().Err(delErr).Str("id", rec.ID).Msg("exhausted-link delete failed")
		}
		s.removeBlob(ctx, rec)
		return nil, ErrQuotaExceeded
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

func (s *Service) checkPassword(rec *model.ContentRecord, supplied string) error {
	if !rec.HasPassword() {
		return nil
	}
	if strings.TrimSpace(supplied) == "" {
		return ErrAuthRequired
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(supplied)) != nil {
		return ErrAuthRejected
	}
	return nil
}

// removeBlob deletes a file link's object best-effort. Failures fall through
// to the purge queue so the blob is not orphaned.
func (s *Service) removeBlob(ctx context.Context, rec *model.ContentRecord) {
	if rec.Kind != model.KindFile || rec.ObjectKey == "" {
		return
	}
	err := s.blobs.Delete(ctx, rec.ObjectKey)
	if err == nil {
		return
	}
	s.log.Warn().Err(err).Str("id", rec.ID).Str("object_key", rec.ObjectKey).
		Msg("blob delete failed")
	if s.purge == nil {
		return
	}
	if qErr := s.purge.EnqueuePurge(ctx, rec.ID, rec.ObjectKey); qErr != nil {
		s.log.Error().Err(qErr).Str("id", rec.ID).Msg("blob purge enqueue failed")
		return
	}
	metrics.BlobPurgesQueued.Inc()
}

func (s *Service) allocateID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := token.NewLinkID()
		if err != nil {
			return "", err
		}
		_, err = s.records.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return id, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", ErrConflict
}

func (s *Service) mapBlobErr(err error) error {
	s.log.Error().Err(err).Msg("object storage failure")
	switch {
	case errors.Is(err, blob.ErrNotConfigured),
		errors.Is(err, blob.ErrCredentialsRejected),
		errors.Is(err, blob.ErrRateLimited),
		errors.Is(err, blob.ErrNetworkUnavailable),
		errors.Is(err, blob.ErrUpstream):
		return errors.Join(ErrStorageUnavailable, err)
	default:
		return err
	}
}

func validateFileName(name string) error {
	if name == "" {
		return invalidf("file name required")
	}
	if len(name) > maxFileNameLen {
		return invalidf("file name too long")
	}
	if strings.ContainsRune(name, 0) {
		return invalidf("file name contains null byte")
	}
	if deniedExtensions[strings.ToLower(filepath.Ext(name))] {
		return invalidf("file type not allowed")
	}
	return nil
}

func normalizeMaxAccess(max *int, burnAfterRead bool) (*int, error) {
	if burnAfterRead {
		one := 1
		return &one, nil
	}
	if max == nil {
		return nil, nil
	}
	if *max < 1 {
		return nil, invalidf("max access must be at least 1")
	}
	v := *max
	return &v, nil
}

// burnOnClose fires cleanup exactly once when the stream is closed, no
// matter whether the copy completed, errored, or the client walked away.
type burnOnClose struct {
	io.ReadCloser
	once    sync.Once
	cleanup func()
}

func (b *burnOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.cleanup)
	return err
}
