package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite as the backend.
// Chunks and edges are append-only; the only mutation anywhere is the
// superseded_by flag set by Supersede.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens a SQLite-backed store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
// Creates tables and indexes if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS content (
		chunk_id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		stage INTEGER NOT NULL,
		kind TEXT NOT NULL,
		author TEXT,
		source_title TEXT,
		published INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		superseded_by TEXT
	);

	CREATE TABLE IF NOT EXISTS citations (
		id TEXT PRIMARY KEY,
		source_chunk_id TEXT NOT NULL,
		target_chunk_id TEXT NOT NULL,
		marker TEXT NOT NULL,
		relationship_type TEXT NOT NULL DEFAULT 'cites',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (source_chunk_id) REFERENCES content(chunk_id)
	);

	CREATE INDEX IF NOT EXISTS idx_citations_source ON citations(source_chunk_id);
	CREATE INDEX IF NOT EXISTS idx_citations_target ON citations(target_chunk_id);

	CREATE TABLE IF NOT EXISTS supersessions (
		id TEXT PRIMARY KEY,
		superseding_id TEXT NOT NULL,
		superseded_id TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_supersessions_superseding ON supersessions(superseding_id);
	CREATE INDEX IF NOT EXISTS idx_supersessions_superseded ON supersessions(superseded_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DB returns the underlying database connection for advanced operations.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// validateChunk checks the structural invariants of a chunk record.
func validateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidChunk)
	}
	if chunk.ID == "" {
		return fmt.Errorf("%w: chunk id cannot be empty", ErrInvalidChunk)
	}
	if chunk.Stage < 0 {
		return fmt.Errorf("%w: stage must be non-negative, got %d", ErrInvalidChunk, chunk.Stage)
	}
	switch chunk.Kind {
	case KindRaw:
		if chunk.Stage != 0 {
			return fmt.Errorf("%w: raw chunk %s must be stage 0, got %d", ErrInvalidChunk, chunk.ID, chunk.Stage)
		}
	case KindInsight:
		if chunk.Stage < 1 {
			return fmt.Errorf("%w: insight chunk %s must be stage >= 1, got %d", ErrInvalidChunk, chunk.ID, chunk.Stage)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidChunk, chunk.Kind)
	}
	return nil
}

// PutChunk inserts a new chunk. Insert-only: there is no upsert path, so a
// second write with the same id fails with ErrDuplicateChunk. The uniqueness
// check and the insert run in one transaction so a failed write leaves no
// partial row behind.
func (s *SQLiteStore) PutChunk(ctx context.Context, chunk *Chunk) error {
	if err := validateChunk(chunk); err != nil {
		return err
	}

	if chunk.CreatedAt.IsZero() {
		chunk.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // Rollback if not committed

	var count int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content WHERE chunk_id = ?", chunk.ID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check chunk id: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateChunk, chunk.ID)
	}

	query := `
		INSERT INTO content (chunk_id, text, stage, kind, author, source_title, published, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		chunk.ID,
		chunk.Text,
		chunk.Stage,
		string(chunk.Kind),
		chunk.Author,
		chunk.SourceTitle,
		chunk.Published,
		chunk.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// GetChunk retrieves a chunk by its id.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	query := `
		SELECT chunk_id, text, stage, kind, author, source_title, published, created_at, superseded_by
		FROM content
		WHERE chunk_id = ?
	`

	var chunk Chunk
	var kind string
	var author, sourceTitle, supersededBy sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chunk.ID,
		&chunk.Text,
		&chunk.Stage,
		&kind,
		&author,
		&sourceTitle,
		&chunk.Published,
		&chunk.CreatedAt,
		&supersededBy,
	)

	if err == sql.ErrNoRows {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}

	chunk.Kind = Kind(kind)
	chunk.Author = author.String
	chunk.SourceTitle = sourceTitle.String
	if supersededBy.Valid {
		chunk.SupersededBy = &supersededBy.String
	}

	return &chunk, nil
}

// HasChunk reports whether a chunk exists without scanning the full record.
func (s *SQLiteStore) HasChunk(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content WHERE chunk_id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check chunk existence: %w", err)
	}
	return count > 0, nil
}

// AddEdge inserts a citation edge. Both endpoints must resolve to stored
// chunks and the source must not be a stage-0 chunk; all checks and the
// insert run in one transaction. Duplicate (source, target) pairs with
// distinct markers are distinct edges and are never collapsed.
func (s *SQLiteStore) AddEdge(ctx context.Context, edge *CitationEdge) error {
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}
	if edge.Relation == "" {
		edge.Relation = RelationCites
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var sourceStage int
	err = tx.QueryRowContext(ctx,
		"SELECT stage FROM content WHERE chunk_id = ?", edge.SourceID).Scan(&sourceStage)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: source %s", ErrInvalidReference, edge.SourceID)
	}
	if err != nil {
		return fmt.Errorf("failed to resolve source chunk: %w", err)
	}
	if sourceStage == 0 {
		return fmt.Errorf("%w: %s is a stage-0 chunk", ErrRawChunkCites, edge.SourceID)
	}

	var targetCount int
	err = tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content WHERE chunk_id = ?", edge.TargetID).Scan(&targetCount)
	if err != nil {
		return fmt.Errorf("failed to resolve target chunk: %w", err)
	}
	if targetCount == 0 {
		return fmt.Errorf("%w: target %s", ErrInvalidReference, edge.TargetID)
	}

	query := `
		INSERT INTO citations (id, source_chunk_id, target_chunk_id, marker, relationship_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		edge.ID,
		edge.SourceID,
		edge.TargetID,
		edge.Marker,
		edge.Relation,
		edge.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Outgoing retrieves all edges with the given source chunk, in insertion order.
func (s *SQLiteStore) Outgoing(ctx context.Context, chunkID string) ([]*CitationEdge, error) {
	return s.queryEdges(ctx, "source_chunk_id", chunkID)
}

// Incoming retrieves all edges with the given target chunk, in insertion order.
func (s *SQLiteStore) Incoming(ctx context.Context, chunkID string) ([]*CitationEdge, error) {
	return s.queryEdges(ctx, "target_chunk_id", chunkID)
}

func (s *SQLiteStore) queryEdges(ctx context.Context, column, chunkID string) ([]*CitationEdge, error) {
	// column is one of the two fixed index columns, never caller input
	query := fmt.Sprintf(`
		SELECT id, source_chunk_id, target_chunk_id, marker, relationship_type, created_at
		FROM citations
		WHERE %s = ?
		ORDER BY rowid
	`, column)

	rows, err := s.db.QueryContext(ctx, query, chunkID)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []*CitationEdge
	for rows.Next() {
		var edge CitationEdge
		err := rows.Scan(
			&edge.ID,
			&edge.SourceID,
			&edge.TargetID,
			&edge.Marker,
			&edge.Relation,
			&edge.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, &edge)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating edges: %w", err)
	}

	return edges, nil
}

// ChunkCount returns the total number of chunks in the store.
func (s *SQLiteStore) ChunkCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM content").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// EdgeCount returns the total number of citation edges in the store.
func (s *SQLiteStore) EdgeCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM citations").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count edges: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Compile-time interface check
var _ Store = (*SQLiteStore)(nil)
