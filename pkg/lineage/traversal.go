// Package lineage computes citation provenance: the transitive closure of
// citation edges reachable from a chunk, annotated with depth and parent,
// and its reassembly into a display-ready forest.
package lineage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/perarnes/citeline/pkg/store"
)

// DefaultMaxDepth bounds traversal depth when Options.MaxDepth is unset.
// It is a safety valve against citation cycles and pathological chains,
// not a semantic limit.
const DefaultMaxDepth = 10

// Options configures a Tracer.
type Options struct {
	// MaxDepth is the depth at which branch expansion stops (default 10).
	MaxDepth int

	// Logger receives dangling-reference and truncation warnings.
	// Nil falls back to slog.Default.
	Logger *slog.Logger
}

// Node is one entry in a flat traversal result. Depth is 1 for direct
// citations of the query root; ParentID names the citing chunk through which
// this occurrence was reached. A chunk cited via two paths appears twice.
type Node struct {
	ChunkID  string `json:"chunk_id"`
	Depth    int    `json:"depth"`
	ParentID string `json:"parent_chunk_id"`

	// Occurrence linkage for tree assembly. A chunk id is not a node
	// identity here, so children are attached by ordinal, not by id.
	ord       int
	parentOrd int // -1 when the parent is the query root
}

// DanglingRef records a citation edge whose target chunk does not exist.
// Non-fatal: the traversal skips the node and reports the reference here.
type DanglingRef struct {
	SourceID string `json:"source_chunk_id"`
	TargetID string `json:"target_chunk_id"`
	Marker   string `json:"marker"`
}

// Report carries the read-path anomalies of a traversal. Neither condition
// aborts a query; callers get a usable partial result plus this metadata.
type Report struct {
	// Dangling lists edges whose targets were missing from the content store.
	Dangling []DanglingRef `json:"dangling,omitempty"`

	// TruncatedAt lists chunk ids whose citations were cut by the depth
	// limit; a non-empty list signals a possible cycle or unusually deep
	// provenance chain.
	TruncatedAt []string `json:"truncated_at,omitempty"`
}

// Truncated reports whether any branch hit the depth cutoff.
func (r *Report) Truncated() bool {
	return len(r.TruncatedAt) > 0
}

// Result is the flat outcome of a traversal, ordered by (depth, chunk id,
// parent id) so repeated queries over unchanged edges are byte-identical.
type Result struct {
	RootID string `json:"root_chunk_id"`
	Nodes  []Node `json:"nodes"`
	Report Report `json:"report"`
}

// Tracer computes lineage over a Store. Lineage is recomputed on every query
// rather than precomputed per chunk: reads cost O(edges touched), and new
// citations or supersessions need no propagation.
type Tracer struct {
	store    store.Store
	maxDepth int
	logger   *slog.Logger
}

// NewTracer creates a tracer over the given store.
func NewTracer(s store.Store, opts Options) *Tracer {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		store:    s,
		maxDepth: opts.MaxDepth,
		logger:   logger,
	}
}

// Trace computes the full lineage of the chunk with the given id.
// Returns store.ErrChunkNotFound if the root itself does not resolve.
// A root that cites nothing yields an empty, non-error result.
func (t *Tracer) Trace(ctx context.Context, rootID string) (*Result, error) {
	return t.trace(ctx, rootID, t.maxDepth, true)
}

// Direct returns only the depth-1 citations of the given chunk. The slice is
// exactly the depth-1 subset of a full Trace over the same edge set.
func (t *Tracer) Direct(ctx context.Context, rootID string) ([]Node, error) {
	res, err := t.trace(ctx, rootID, 1, false)
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

// entry links an occurrence to the occurrence that produced it, so that
// converging citation paths stay distinct through sorting and assembly.
type entry struct {
	node   *Node
	parent *entry // nil for depth-1 entries
}

// trace is the breadth-first expansion shared by Trace and Direct.
//
// Deliberately no visited-set short-circuit: a chunk legitimately cited via
// two different parents must appear once per path, since each occurrence is
// a distinct provenance claim. Termination relies on natural exhaustion of
// the frontier or on the depth cutoff, which also bounds cyclic input.
func (t *Tracer) trace(ctx context.Context, rootID string, maxDepth int, probeTruncation bool) (*Result, error) {
	ok, err := t.store.HasChunk(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root chunk: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("lineage root %s: %w", rootID, store.ErrChunkNotFound)
	}

	res := &Result{RootID: rootID, Nodes: make([]Node, 0)}

	var all []*entry
	frontier := []*entry{nil} // nil entry stands for the query root

	for depth := 1; len(frontier) > 0; depth++ {
		// Each level is a discrete batch, so cancellation between levels
		// leaves no partial expansion behind.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cut := depth > maxDepth
		var next []*entry

		for _, parent := range frontier {
			parentID := rootID
			if parent != nil {
				parentID = parent.node.ChunkID
			}

			edges, err := t.store.Outgoing(ctx, parentID)
			if err != nil {
				return nil, fmt.Errorf("failed to expand %s at depth %d: %w", parentID, depth, err)
			}

			if cut {
				if len(edges) > 0 {
					res.Report.TruncatedAt = append(res.Report.TruncatedAt, parentID)
					t.logger.Warn("lineage truncated at max depth",
						"root", rootID, "chunk", parentID, "max_depth", maxDepth)
				}
				continue
			}

			for _, edge := range edges {
				exists, err := t.store.HasChunk(ctx, edge.TargetID)
				if err != nil {
					return nil, fmt.Errorf("failed to resolve citation target: %w", err)
				}
				if !exists {
					res.Report.Dangling = append(res.Report.Dangling, DanglingRef{
						SourceID: edge.SourceID,
						TargetID: edge.TargetID,
						Marker:   edge.Marker,
					})
					t.logger.Warn("skipping dangling citation",
						"root", rootID, "source", edge.SourceID,
						"target", edge.TargetID, "marker", edge.Marker)
					continue
				}

				child := &entry{
					node: &Node{
						ChunkID:  edge.TargetID,
						Depth:    depth,
						ParentID: parentID,
					},
					parent: parent,
				}
				all = append(all, child)
				next = append(next, child)
			}
		}

		if !probeTruncation && depth >= maxDepth {
			break
		}
		frontier = next
	}

	// Deterministic output order; the secondary keys have no semantic
	// meaning, they exist for testing and caching.
	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i].node, all[j].node
		if a.Depth != b.Depth {
			return a.Depth < b.Depth
		}
		if a.ChunkID != b.ChunkID {
			return a.ChunkID < b.ChunkID
		}
		return a.ParentID < b.ParentID
	})
	for i, e := range all {
		e.node.ord = i
	}
	for _, e := range all {
		if e.parent == nil {
			e.node.parentOrd = -1
		} else {
			e.node.parentOrd = e.parent.node.ord
		}
	}
	for _, e := range all {
		res.Nodes = append(res.Nodes, *e.node)
	}

	sort.Strings(res.Report.TruncatedAt)
	res.Report.TruncatedAt = dedupe(res.Report.TruncatedAt)

	return res, nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return ids
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
