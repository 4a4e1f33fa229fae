package lineage

import (
	"context"
	"errors"
	"fmt"

	"github.com/perarnes/citeline/pkg/store"
)

// TreeNode is one occurrence of a chunk in the assembled lineage forest,
// enriched with its full content record. The same chunk id can appear as
// several TreeNodes when citation paths converge on it; those are distinct
// provenance claims and are never merged.
type TreeNode struct {
	ChunkID  string       `json:"chunk_id"`
	Depth    int          `json:"depth"`
	Chunk    *store.Chunk `json:"chunk"`
	Children []*TreeNode  `json:"children,omitempty"`
}

// Tree is the nested forest built from a flat traversal result. Roots are
// the depth-1 citations of the query root; the root chunk itself is not a
// node of its own lineage.
type Tree struct {
	RootID string      `json:"root_chunk_id"`
	Roots  []*TreeNode `json:"roots"`
	Report Report      `json:"report"`
}

// Assemble nests a flat traversal result into a forest and enriches each
// occurrence with its chunk record from the content store.
//
// Nodes are materialized into a flat arena first and then linked to the
// specific occurrence of their parent, so converging paths stay separate
// subtrees and no pointer cycles can form. A node whose chunk no longer
// resolves is excluded along with its subtree, consistent with the
// traversal's tolerant-skip policy; entries with no resolvable parent
// occurrence are dropped rather than crashing the assembly.
func Assemble(ctx context.Context, cs store.ContentStore, res *Result) (*Tree, error) {
	tree := &Tree{
		RootID: res.RootID,
		Roots:  make([]*TreeNode, 0),
		Report: res.Report,
	}

	arena := make([]*TreeNode, len(res.Nodes))
	chunks := make(map[string]*store.Chunk)

	for i := range res.Nodes {
		n := &res.Nodes[i]

		chunk, cached := chunks[n.ChunkID]
		if !cached {
			var err error
			chunk, err = cs.GetChunk(ctx, n.ChunkID)
			if errors.Is(err, store.ErrChunkNotFound) {
				chunk = nil
			} else if err != nil {
				return nil, fmt.Errorf("failed to enrich chunk %s: %w", n.ChunkID, err)
			}
			chunks[n.ChunkID] = chunk
		}
		if chunk == nil {
			continue // arena slot stays nil; children of this occurrence are dropped too
		}

		node := &TreeNode{
			ChunkID: n.ChunkID,
			Depth:   n.Depth,
			Chunk:   chunk,
		}
		arena[i] = node

		switch {
		case n.parentOrd == -1 && n.Depth == 1:
			tree.Roots = append(tree.Roots, node)
		case n.parentOrd >= 0 && n.parentOrd < i && arena[n.parentOrd] != nil:
			parent := arena[n.parentOrd]
			parent.Children = append(parent.Children, node)
		default:
			// Orphaned entry: its declared parent occurrence is missing or
			// was excluded. Drop it so its own subtree is dropped as well.
			arena[i] = nil
		}
	}

	return tree, nil
}

// Flatten returns the tree's occurrences in depth-first order, mostly useful
// for display layers that render an indented list instead of a nested tree.
func (t *Tree) Flatten() []*TreeNode {
	var out []*TreeNode
	var walk func(nodes []*TreeNode)
	walk = func(nodes []*TreeNode) {
		for _, n := range nodes {
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(t.Roots)
	return out
}
