// Package store provides storage for citeline's content chunks and citation edges.
package store

import (
	"context"
	"errors"
	"time"
)

// Kind distinguishes raw source fragments from synthesized insights.
type Kind string

const (
	// KindRaw marks a fragment ingested from an original source document.
	// Raw chunks are always stage 0 and never cite anything.
	KindRaw Kind = "raw"

	// KindInsight marks an authored chunk derived by synthesis.
	// Insight chunks are stage >= 1 and may cite other chunks.
	KindInsight Kind = "insight"
)

// Chunk is an immutable unit of text content, tagged with a provenance stage.
// Once published, text and stage are never mutated; corrections happen via
// supersession (a replacement chunk is created and the old one is flagged).
type Chunk struct {
	ID           string     `json:"chunk_id"`
	Text         string     `json:"text"`
	Stage        int        `json:"stage"` // 0 = raw source, >=1 = synthesized insight
	Kind         Kind       `json:"kind"`
	Author       string     `json:"author,omitempty"`
	SourceTitle  string     `json:"source_title,omitempty"`
	Published    bool       `json:"published"`
	CreatedAt    time.Time  `json:"created_at"`
	SupersededBy *string    `json:"superseded_by,omitempty"` // ID of the replacement chunk, if any
}

// CitationEdge is a directed assertion that the source chunk's text cites
// the target chunk. Marker is the literal inline label (e.g. "[1]") used for
// display correlation only; it has no traversal semantics. Two citations of
// the same target via distinct markers are two distinct edges.
type CitationEdge struct {
	ID        string    `json:"id"`
	SourceID  string    `json:"source_chunk_id"`
	TargetID  string    `json:"target_chunk_id"`
	Marker    string    `json:"marker"`
	Relation  string    `json:"relationship_type"` // defaults to "cites"
	CreatedAt time.Time `json:"created_at"`
}

// RelationCites is the default relationship type. Other values are reserved
// for future distinction and carry no special traversal semantics.
const RelationCites = "cites"

// ContentStore defines keyed storage and point lookup of chunks.
// There is no update or delete operation: chunks are append-only.
type ContentStore interface {
	// PutChunk inserts a new chunk. Returns ErrDuplicateChunk if the id is
	// already in use and ErrInvalidChunk if the record fails validation.
	PutChunk(ctx context.Context, chunk *Chunk) error

	// GetChunk retrieves a chunk by id. Returns ErrChunkNotFound on a miss;
	// callers treat that as a normal branch, not a failure.
	GetChunk(ctx context.Context, id string) (*Chunk, error)

	// HasChunk reports whether a chunk id exists, without fetching the record.
	HasChunk(ctx context.Context, id string) (bool, error)

	// ChunkCount returns the total number of stored chunks.
	ChunkCount(ctx context.Context) (int64, error)
}

// EdgeStore defines append-only storage of citation edges with forward and
// reverse lookup. Both lookups are index-backed so per-level traversal reads
// stay near-constant-time.
type EdgeStore interface {
	// AddEdge inserts a citation edge. Returns ErrInvalidReference if either
	// endpoint does not resolve to a stored chunk and ErrRawChunkCites if the
	// source is a stage-0 chunk. If Edge.ID is empty a new UUID is generated;
	// if Relation is empty it defaults to "cites".
	AddEdge(ctx context.Context, edge *CitationEdge) error

	// Outgoing returns all edges where the given chunk is the source, in
	// insertion order so citation-number display stays stable. Returns an
	// empty slice, not an error, when the chunk cites nothing.
	Outgoing(ctx context.Context, chunkID string) ([]*CitationEdge, error)

	// Incoming returns all edges where the given chunk is the target, in
	// insertion order ("who cites me").
	Incoming(ctx context.Context, chunkID string) ([]*CitationEdge, error)

	// EdgeCount returns the total number of stored edges.
	EdgeCount(ctx context.Context) (int64, error)
}

// Store combines the content and edge stores over one backing database.
type Store interface {
	ContentStore
	EdgeStore

	// Close releases any resources held by the store.
	Close() error
}

// ErrChunkNotFound indicates that no chunk exists for the given id.
var ErrChunkNotFound = errors.New("chunk not found")

// ErrDuplicateChunk indicates a write with an already-used chunk id.
var ErrDuplicateChunk = errors.New("chunk id already exists")

// ErrInvalidChunk indicates a chunk record that fails validation
// (empty id, negative stage, unknown kind, or kind/stage mismatch).
var ErrInvalidChunk = errors.New("invalid chunk")

// ErrInvalidReference indicates an edge write naming a non-existent chunk id.
var ErrInvalidReference = errors.New("citation references unknown chunk")

// ErrRawChunkCites indicates an edge write that would give a stage-0 chunk
// an outgoing citation. Raw chunks are leaves of the citation graph.
var ErrRawChunkCites = errors.New("raw chunk cannot cite")
