package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SupersessionRecord captures that one chunk replaces another. The superseded
// chunk and its edges remain queryable unchanged; only its superseded_by flag
// is set so a display layer can badge stale citations.
type SupersessionRecord struct {
	ID            string    `json:"id"`
	SupersedingID string    `json:"superseding_id"` // replacement chunk
	SupersededID  string    `json:"superseded_id"`  // chunk being replaced
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Superseder provides the correction workflow for published chunks.
// Separate from ContentStore to keep the append-only contract visible:
// nothing here ever mutates text or stage, and nothing is deleted.
type Superseder interface {
	// Supersede inserts the replacement chunk and flags the old one as
	// superseded by it, atomically. Returns ErrChunkNotFound if oldID does
	// not resolve and ErrDuplicateChunk if the replacement id is taken.
	Supersede(ctx context.Context, replacement *Chunk, oldID, reason string) error

	// SupersedingChunk returns the id of the chunk that superseded the given
	// one, or nil if it has not been superseded.
	SupersedingChunk(ctx context.Context, chunkID string) (*string, error)

	// SupersededChunks returns the ids of chunks the given one supersedes.
	SupersededChunks(ctx context.Context, chunkID string) ([]string, error)

	// SupersessionChain returns the full supersession history the given chunk
	// belongs to, ordered oldest to newest.
	SupersessionChain(ctx context.Context, chunkID string) ([]SupersessionRecord, error)
}

// Compile-time interface check
var _ Superseder = (*SQLiteStore)(nil)

// Supersede records that a new chunk replaces an old one.
func (s *SQLiteStore) Supersede(ctx context.Context, replacement *Chunk, oldID, reason string) error {
	if err := validateChunk(replacement); err != nil {
		return err
	}
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var oldCount int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content WHERE chunk_id = ?", oldID).Scan(&oldCount)
	if err != nil {
		return fmt.Errorf("failed to resolve superseded chunk: %w", err)
	}
	if oldCount == 0 {
		return fmt.Errorf("supersede %s: %w", oldID, ErrChunkNotFound)
	}

	var newCount int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content WHERE chunk_id = ?", replacement.ID).Scan(&newCount)
	if err != nil {
		return fmt.Errorf("failed to check replacement id: %w", err)
	}
	if newCount > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, replacement.ID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO content (chunk_id, text, stage, kind, author, source_title, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		replacement.ID,
		replacement.Text,
		replacement.Stage,
		string(replacement.Kind),
		replacement.Author,
		replacement.SourceTitle,
		replacement.Published,
		replacement.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert replacement chunk: %w", err)
	}

	// The flag is the only mutation the store performs on a published chunk.
	_, err = tx.ExecContext(ctx,
		"UPDATE content SET superseded_by = ? WHERE chunk_id = ?",
		replacement.ID, oldID)
	if err != nil {
		return fmt.Errorf("failed to flag superseded chunk: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO supersessions (id, superseding_id, superseded_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(),
		replacement.ID,
		oldID,
		reason,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record supersession: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// SupersedingChunk returns the id of the chunk that superseded the given one.
func (s *SQLiteStore) SupersedingChunk(ctx context.Context, chunkID string) (*string, error) {
	var supersededBy sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT superseded_by FROM content WHERE chunk_id = ?", chunkID).Scan(&supersededBy)
	if err == sql.ErrNoRows {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get superseding chunk: %w", err)
	}
	if !supersededBy.Valid {
		return nil, nil
	}
	return &supersededBy.String, nil
}

// SupersededChunks returns the ids of chunks the given one supersedes.
func (s *SQLiteStore) SupersededChunks(ctx context.Context, chunkID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT superseded_id FROM supersessions WHERE superseding_id = ? ORDER BY created_at, id",
		chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query superseded chunks: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan superseded id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating superseded ids: %w", err)
	}

	return ids, nil
}

// SupersessionChain walks to the oldest chunk in the chain the given chunk
// belongs to, then collects the records forward, oldest to newest. The walk
// is bounded by a visited set so a malformed cyclic chain cannot hang it.
func (s *SQLiteStore) SupersessionChain(ctx context.Context, chunkID string) ([]SupersessionRecord, error) {
	visited := map[string]bool{chunkID: true}

	// Walk backwards: while the current chunk supersedes something, step down.
	current := chunkID
	for {
		var prev string
		err := s.db.QueryRowContext(ctx,
			"SELECT superseded_id FROM supersessions WHERE superseding_id = ? ORDER BY created_at LIMIT 1",
			current).Scan(&prev)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk supersession chain: %w", err)
		}
		if visited[prev] {
			break
		}
		visited[prev] = true
		current = prev
	}

	// Collect forward from the oldest chunk.
	chain := make([]SupersessionRecord, 0)
	seen := map[string]bool{current: true}
	for {
		var rec SupersessionRecord
		err := s.db.QueryRowContext(ctx, `
			SELECT id, superseding_id, superseded_id, COALESCE(reason, ''), created_at
			FROM supersessions
			WHERE superseded_id = ?
			ORDER BY created_at LIMIT 1`,
			current).Scan(&rec.ID, &rec.SupersedingID, &rec.SupersededID, &rec.Reason, &rec.CreatedAt)
		if err == sql.ErrNoRows {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to collect supersession chain: %w", err)
		}
		chain = append(chain, rec)
		if seen[rec.SupersedingID] {
			break
		}
		seen[rec.SupersedingID] = true
		current = rec.SupersedingID
	}

	return chain, nil
}
