// Package repository implements the metadata store on Postgres. All SQL used
// by the API, reaper, and worker lives here.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linkvault/linkvault/internal/model"
	"github.com/linkvault/linkvault/internal/store"
)

const recordColumns = `id, kind, text_content, object_key, file_name, content_type, size,
	password_hash, burn_after_read, max_access, access_count, owner_id, delete_token,
	created_at, expires_at`

// RecordRepository wraps a pgx pool and satisfies store.RecordStore.
type RecordRepository struct {
	pool *pgxpool.Pool
}

// NewRecordRepository constructs a repository.
func NewRecordRepository(pool *pgxpool.Pool) *RecordRepository {
	return &RecordRepository{pool: pool}
}

// Put inserts a new record. The primary key constraint is what makes the
// identifier collision check race-free: two creators picking the same id
// cannot both commit.
func (r *RecordRepository) Put(ctx context.Context, rec *model.ContentRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO links (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, rec.ID, rec.Kind, rec.TextContent, rec.ObjectKey, rec.FileName, rec.ContentType,
		rec.Size, rec.PasswordHash, rec.BurnAfterRead, rec.MaxAccess, rec.AccessCount,
		rec.OwnerID, rec.DeleteToken, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateID
		}
		return fmt.Errorf("insert link: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (r *RecordRepository) Get(ctx context.Context, id string) (*model.ContentRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM links WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select link: %w", err)
	}
	return rec, nil
}

// ConsumeSlot spends one access slot. The guard and the increment are a
// single UPDATE so two readers racing over the last slot can never both
// succeed; Postgres serializes them on the row lock and the loser's WHERE
// clause no longer matches.
func (r *RecordRepository) ConsumeSlot(ctx context.Context, id string) (*model.ContentRecord, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE links
		SET access_count = access_count + 1
		WHERE id = $1 AND (max_access IS NULL OR access_count < max_access)
		RETURNING `+recordColumns, id)
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("consume slot: %w", err)
	}
	// No row matched: either the record is gone or the quota ran out.
	if _, getErr := r.Get(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, store.ErrQuotaExhausted
}

// Delete removes a record, reporting store.ErrNotFound when nothing matched.
func (r *RecordRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM links WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListByOwner returns the owner's records, newest first.
func (r *RecordRepository) ListByOwner(ctx context.Context, ownerID string) ([]*model.ContentRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM links
		WHERE owner_id = $1 AND owner_id <> ''
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list links by owner: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ExpiredBefore returns records the reaper should reclaim.
func (r *RecordRepository) ExpiredBefore(ctx context.Context, cutoff time.Time) ([]*model.ContentRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+recordColumns+` FROM links WHERE expires_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired links: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

func collectRecords(rows pgx.Rows) ([]*model.ContentRecord, error) {
	var out []*model.ContentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (*model.ContentRecord, error) {
	var rec model.ContentRecord
	err := row.Scan(&rec.ID, &rec.Kind, &rec.TextContent, &rec.ObjectKey, &rec.FileName,
		&rec.ContentType, &rec.Size, &rec.PasswordHash, &rec.BurnAfterRead, &rec.MaxAccess,
		&rec.AccessCount, &rec.OwnerID, &rec.DeleteToken, &rec.CreatedAt, &rec.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}

var _ store.RecordStore = (*RecordRepository)(nil)
