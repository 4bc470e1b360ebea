package service_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/linkvault/linkvault/internal/blob"
	"github.com/linkvault/linkvault/internal/model"
	"github.com/linkvault/linkvault/internal/service"
	"github.com/linkvault/linkvault/internal/storage"
	"github.com/linkvault/linkvault/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type env struct {
	svc     *service.Service
	records *storage.MemoryStore
	blobs   *blob.MemoryStore
	clock   *clock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		records: storage.NewMemoryStore(),
		blobs:   blob.NewMemoryStore(),
		clock:   &clock{now: time.Now().UTC()},
	}
	e.svc = service.New(e.records, e.blobs, service.Options{
		Logger: zerolog.Nop(),
		Clock:  e.clock.Now,
	})
	return e
}

func intPtr(n int) *int { return &n }

func createText(t *testing.T, e *env, in service.CreateInput) *service.CreateResult {
	t.Helper()
	res, err := e.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return res
}

func createFile(t *testing.T, e *env, content string, in service.CreateInput) *service.CreateResult {
	t.Helper()
	in.File = &service.FileUpload{
		Name:        "report.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(content)),
		Reader:      strings.NewReader(content),
	}
	res, err := e.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return res
}

func TestCreateValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   service.CreateInput
	}{
		{"neither payload", service.CreateInput{}},
		{"both payloads", service.CreateInput{
			Text: "hi",
			File: &service.FileUpload{Name: "a.txt", Reader: strings.NewReader("x"), Size: 1},
		}},
		{"zero max access", service.CreateInput{Text: "hi", MaxAccess: intPtr(0)}},
		{"negative max access", service.CreateInput{Text: "hi", MaxAccess: intPtr(-3)}},
		{"empty file name", service.CreateInput{
			File: &service.FileUpload{Name: "", Reader: strings.NewReader("x"), Size: 1},
		}},
		{"file name with null byte", service.CreateInput{
			File: &service.FileUpload{Name: "a\x00.txt", Reader: strings.NewReader("x"), Size: 1},
		}},
		{"overlong file name", service.CreateInput{
			File: &service.FileUpload{Name: strings.Repeat("a", 300), Reader: strings.NewReader("x"), Size: 1},
		}},
		{"denylisted extension", service.CreateInput{
			File: &service.FileUpload{Name: "payload.EXE", Reader: strings.NewReader("x"), Size: 1},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.Create(ctx, tc.in)
			require.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestCreateDefaultsExpiry(t *testing.T) {
	e := newEnv(t)
	res := createText(t, e, service.CreateInput{Text: "hello"})
	require.Equal(t, e.clock.Now().Add(service.DefaultTTL), res.ExpiresAt)
	require.Len(t, res.ID, 32)
	require.Len(t, res.DeleteToken, 32)
	require.NotEqual(t, res.ID, res.DeleteToken)
}

func TestTextRoundTripWithQuota(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createText(t, e, service.CreateInput{Text: "hello", MaxAccess: intPtr(2)})

	for i := 0; i < 2; i++ {
		view, err := e.svc.Consume(ctx, res.ID, "")
		require.NoError(t, err)
		require.Equal(t, "hello", view.TextContent)
		require.Equal(t, model.KindText, view.Kind)
	}

	_, err := e.svc.Consume(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrQuotaExceeded)

	// The exhausted record was destroyed, not just refused.
	_, err = e.records.Get(ctx, res.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestBurnAfterReadText(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createText(t, e, service.CreateInput{Text: "secret", BurnAfterRead: true})

	view, err := e.svc.Consume(ctx, res.ID, "")
	require.NoError(t, err)
	require.Equal(t, "secret", view.TextContent)
	require.True(t, view.BurnAfterRead)
	require.NotNil(t, view.MaxAccess)
	require.Equal(t, 1, *view.MaxAccess)

	_, err = e.svc.Consume(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestExpiredLinkUnreachable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createText(t, e, service.CreateInput{Text: "soon gone", ExpiresIn: time.Minute})

	e.clock.Advance(2 * time.Minute)

	_, err := e.svc.Consume(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrNotFound)

	// Lazy expiry reclaimed the record; no later call can see it.
	_, err = e.records.Get(ctx, res.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = e.svc.Consume(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestExpiredFileReclaimsBlob(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createFile(t, e, "bytes", service.CreateInput{ExpiresIn: time.Minute})
	require.True(t, e.blobs.Contains("links/"+res.ID))

	e.clock.Advance(2 * time.Minute)
	_, err := e.svc.Consume(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrNotFound)
	require.False(t, e.blobs.Contains("links/"+res.ID))
}

func TestPasswordGate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createText(t, e, service.CreateInput{Text: "guarded", Password: "hunter2", MaxAccess: intPtr(5)})

	_, err := e.svc.Consume(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrAuthRequired)

	_, err = e.svc.Consume(ctx, res.ID, "wrong")
	require.ErrorIs(t, err, service.ErrAuthRejected)

	view, err := e.svc.Consume(ctx, res.ID, "hunter2")
	require.NoError(t, err)
	require.Equal(t, "guarded", view.TextContent)
	// Failed password attempts must not have spent quota.
	require.Equal(t, 1, view.AccessCount)
}

func TestFileViewDoesNotSpendQuota(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createFile(t, e, "file bytes", service.CreateInput{MaxAccess: intPtr(1)})

	// Metadata views are free for files; only the download spends quota.
	for i := 0; i < 3; i++ {
		view, err := e.svc.Consume(ctx, res.ID, "")
		require.NoError(t, err)
		require.Equal(t, model.KindFile, view.Kind)
		require.Equal(t, "report.pdf", view.FileName)
		require.Empty(t, view.TextContent)
		require.Equal(t, 0, view.AccessCount)
	}

	dl, err := e.svc.Download(ctx, res.ID, "")
	require.NoError(t, err)
	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.NoError(t, dl.Body.Close())
	require.Equal(t, "file bytes", string(data))

	_, err = e.svc.Download(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrQuotaExceeded)
}

func TestBurnAfterReadFileDownload(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createFile(t, e, "one-shot bytes", service.CreateInput{BurnAfterRead: true})
	key := "links/" + res.ID

	dl, err := e.svc.Download(ctx, res.ID, "")
	require.NoError(t, err)
	require.Equal(t, "report.pdf", dl.FileName)

	// Nothing is destroyed until the stream is closed.
	require.True(t, e.blobs.Contains(key))

	data, err := io.ReadAll(dl.Body)
	require.NoError(t, err)
	require.Equal(t, "one-shot bytes", string(data))
	require.NoError(t, dl.Body.Close())

	// Record and blob are gone after delivery.
	_, err = e.svc.Download(ctx, res.ID, "")
	require.ErrorIs(t, err, service.ErrNotFound)
	require.False(t, e.blobs.Contains(key))
	_, err = e.blobs.Fetch(ctx, key)
	require.ErrorIs(t, err, blob.ErrObjectNotFound)
}

func TestBurnCleanupFiresOnceOnAbandonedStream(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createFile(t, e, "abandoned", service.CreateInput{BurnAfterRead: true})
	key := "links/" + res.ID

	dl, err := e.svc.Download(ctx, res.ID, "")
	require.NoError(t, err)
	// Client walks away without reading; double Close must not panic or
	// double-run cleanup.
	require.NoError(t, dl.Body.Close())
	require.NoError(t, dl.Body.Close())
	require.False(t, e.blobs.Contains(key))
	_, err = e.records.Get(ctx, res.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDownloadRejectsTextLinks(t *testing.T) {
	e := newEnv(t)
	res := createText(t, e, service.CreateInput{Text: "not a file"})
	_, err := e.svc.Download(context.Background(), res.ID, "")
	require.ErrorIs(t, err, service.ErrValidation)
}

func TestDeleteByToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createFile(t, e, "to delete", service.CreateInput{})
	key := "links/" + res.ID

	// Wrong token and no owner identity: refused.
	err := e.svc.Delete(ctx, res.ID, service.DeleteCredential{DeleteToken: "bogus"})
	require.ErrorIs(t, err, service.ErrForbidden)

	// Correct token works without any authenticated identity.
	err = e.svc.Delete(ctx, res.ID, service.DeleteCredential{DeleteToken: res.DeleteToken})
	require.NoError(t, err)
	require.False(t, e.blobs.Contains(key))

	// Second delete: the record is already gone.
	err = e.svc.Delete(ctx, res.ID, service.DeleteCredential{DeleteToken: res.DeleteToken})
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeleteByOwner(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	res := createText(t, e, service.CreateInput{Text: "mine", OwnerID: "owner-1"})

	err := e.svc.Delete(ctx, res.ID, service.DeleteCredential{OwnerID: "owner-2"})
	require.ErrorIs(t, err, service.ErrForbidden)

	err = e.svc.Delete(ctx, res.ID, service.DeleteCredential{OwnerID: "owner-1"})
	require.NoError(t, err)
}

func TestAnonymousRecordNotOwnerDeletable(t *testing.T) {
	e := newEnv(t)
	res := createText(t, e, service.CreateInput{Text: "anon"})
	// An empty ownerId on the record never matches any identity.
	err := e.svc.Delete(context.Background(), res.ID, service.DeleteCredential{OwnerID: "owner-1"})
	require.ErrorIs(t, err, service.ErrForbidden)
}

func TestListOwned(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := createText(t, e, service.CreateInput{Text: "first", OwnerID: "owner-1"})
	e.clock.Advance(time.Second)
	second := createText(t, e, service.CreateInput{Text: "second", OwnerID: "owner-1"})
	e.clock.Advance(time.Second)
	expiring := createText(t, e, service.CreateInput{Text: "gone", OwnerID: "owner-1", ExpiresIn: time.Minute})
	createText(t, e, service.CreateInput{Text: "other", OwnerID: "owner-2"})

	e.clock.Advance(5 * time.Minute) // expires the one-minute link only

	views, err := e.svc.ListOwned(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, views, 2)
	require.Equal(t, second.ID, views[0].ID)
	require.Equal(t, first.ID, views[1].ID)
	for _, v := range views {
		require.NotEqual(t, expiring.ID, v.ID)
	}

	_, err = e.svc.ListOwned(ctx, "")
	require.ErrorIs(t, err, service.ErrValidation)
}

// TestConcurrentConsumersExactQuota launches more callers than slots and
// requires exactly maxAccess of them to win.
func TestConcurrentConsumersExactQuota(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	const max, callers = 4, 16
	res := createText(t, e, service.CreateInput{Text: "contested", MaxAccess: intPtr(max)})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := e.svc.Consume(ctx, res.ID, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, service.ErrQuotaExceeded), errors.Is(err, service.ErrNotFound):
				// Losers see the quota refusal, or NotFound once the
				// exhausted record has been destroyed.
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, max, succeeded)
}

type failingPutStore struct {
	store.RecordStore
	err error
}

func (f *failingPutStore) Put(ctx context.Context, rec *model.ContentRecord) error {
	return f.err
}

// TestFailedMetadataWriteCleansBlob covers the accepted inconsistency window
// of blob-first creation: the only possible half-state is an unreachable
// blob, and even that is removed best-effort.
func TestFailedMetadataWriteCleansBlob(t *testing.T) {
	records := storage.NewMemoryStore()
	blobs := blob.NewMemoryStore()
	svc := service.New(&failingPutStore{RecordStore: records, err: errors.New("db down")}, blobs, service.Options{
		Logger: zerolog.Nop(),
	})

	_, err := svc.Create(context.Background(), service.CreateInput{
		File: &service.FileUpload{
			Name:        "doc.txt",
			ContentType: "text/plain",
			Size:        4,
			Reader:      strings.NewReader("data"),
		},
	})
	require.Error(t, err)

	// No orphaned blob survives the failed create.
	require.Equal(t, 0, blobs.Len())
}
