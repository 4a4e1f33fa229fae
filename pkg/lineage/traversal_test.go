package lineage

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/perarnes/citeline/pkg/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func putChunk(t *testing.T, s *store.SQLiteStore, id string, stage int) {
	t.Helper()
	kind := store.KindInsight
	if stage == 0 {
		kind = store.KindRaw
	}
	err := s.PutChunk(context.Background(), &store.Chunk{
		ID:        id,
		Text:      "text of " + id,
		Stage:     stage,
		Kind:      kind,
		Published: true,
	})
	if err != nil {
		t.Fatalf("PutChunk(%s) failed: %v", id, err)
	}
}

func cite(t *testing.T, s *store.SQLiteStore, sourceID, targetID, marker string) {
	t.Helper()
	err := s.AddEdge(context.Background(), &store.CitationEdge{
		SourceID: sourceID,
		TargetID: targetID,
		Marker:   marker,
	})
	if err != nil {
		t.Fatalf("AddEdge(%s -> %s) failed: %v", sourceID, targetID, err)
	}
}

// danglingCite inserts a citation row directly, bypassing AddEdge's
// reference checks, to simulate a target that was never ingested.
func danglingCite(t *testing.T, s *store.SQLiteStore, sourceID, targetID, marker string) {
	t.Helper()
	_, err := s.DB().Exec(`
		INSERT INTO citations (id, source_chunk_id, target_chunk_id, marker, relationship_type)
		VALUES (?, ?, ?, ?, 'cites')`,
		sourceID+"->"+targetID, sourceID, targetID, marker)
	if err != nil {
		t.Fatalf("Failed to insert dangling citation: %v", err)
	}
}

func TestTrace_SimpleChain(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_1", 0)
	putChunk(t, s, "ins_1", 1)
	cite(t, s, "ins_1", "raw_1", "[1]")

	res, err := NewTracer(s, Options{}).Trace(ctx, "ins_1")
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}

	if len(res.Nodes) != 1 {
		t.Fatalf("Expected exactly 1 node, got %d", len(res.Nodes))
	}
	n := res.Nodes[0]
	if n.ChunkID != "raw_1" || n.Depth != 1 || n.ParentID != "ins_1" {
		t.Errorf("Expected {raw_1, depth 1, parent ins_1}, got {%s, %d, %s}",
			n.ChunkID, n.Depth, n.ParentID)
	}
	if len(res.Report.Dangling) != 0 || res.Report.Truncated() {
		t.Errorf("Expected clean report, got %+v", res.Report)
	}
}

func TestTrace_MixedTwoHopSynthesis(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_A", 0)
	putChunk(t, s, "ins_B", 1)
	putChunk(t, s, "ins_C", 2)
	cite(t, s, "ins_B", "raw_A", "[1]")
	cite(t, s, "ins_C", "ins_B", "[1]")
	cite(t, s, "ins_C", "raw_A", "[2]")

	res, err := NewTracer(s, Options{}).Trace(ctx, "ins_C")
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}

	// raw_A legitimately appears twice: once as a direct citation at depth 1
	// and once via ins_B at depth 2.
	want := []struct {
		chunkID  string
		depth    int
		parentID string
	}{
		{"ins_B", 1, "ins_C"},
		{"raw_A", 1, "ins_C"},
		{"raw_A", 2, "ins_B"},
	}
	if len(res.Nodes) != len(want) {
		t.Fatalf("Expected %d nodes, got %d: %+v", len(want), len(res.Nodes), res.Nodes)
	}
	for i, w := range want {
		n := res.Nodes[i]
		if n.ChunkID != w.chunkID || n.Depth != w.depth || n.ParentID != w.parentID {
			t.Errorf("Node %d: expected {%s, %d, %s}, got {%s, %d, %s}",
				i, w.chunkID, w.depth, w.parentID, n.ChunkID, n.Depth, n.ParentID)
		}
	}
}

func TestTrace_DepthMonotonicity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_A", 0)
	putChunk(t, s, "ins_B", 1)
	putChunk(t, s, "ins_C", 2)
	putChunk(t, s, "ins_D", 3)
	cite(t, s, "ins_D", "ins_C", "[1]")
	cite(t, s, "ins_D", "raw_A", "[2]")
	cite(t, s, "ins_C", "ins_B", "[1]")
	cite(t, s, "ins_B", "raw_A", "[1]")

	res, err := NewTracer(s, Options{}).Trace(ctx, "ins_D")
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}

	// Every node's depth is 1 + its parent occurrence's depth, or 1 when
	// the parent is the query root.
	for _, n := range res.Nodes {
		if n.parentOrd == -1 {
			if n.Depth != 1 {
				t.Errorf("Root-parented node %s has depth %d, want 1", n.ChunkID, n.Depth)
			}
			continue
		}
		parent := res.Nodes[n.parentOrd]
		if n.Depth != parent.Depth+1 {
			t.Errorf("Node %s at depth %d under parent %s at depth %d",
				n.ChunkID, n.Depth, parent.ChunkID, parent.Depth)
		}
		if n.ParentID != parent.ChunkID {
			t.Errorf("Node %s: ParentID %s does not match parent occurrence %s",
				n.ChunkID, n.ParentID, parent.ChunkID)
		}
	}
}

func TestTrace_EmptyLineageIsNotError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_1", 0)

	res, err := NewTracer(s, Options{}).Trace(ctx, "raw_1")
	if err != nil {
		t.Fatalf("Trace of a leaf chunk must succeed, got %v", err)
	}
	if len(res.Nodes) != 0 {
		t.Errorf("Expected empty lineage, got %d nodes", len(res.Nodes))
	}
}

func TestTrace_RootNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := NewTracer(s, Options{}).Trace(context.Background(), "missing")
	if !errors.Is(err, store.ErrChunkNotFound) {
		t.Fatalf("Expected ErrChunkNotFound, got %v", err)
	}
}

func TestTrace_DanglingReferenceSkipped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_1", 0)
	putChunk(t, s, "ins_1", 1)
	cite(t, s, "ins_1", "raw_1", "[1]")
	danglingCite(t, s, "ins_1", "ghost", "[2]")

	res, err := NewTracer(s, Options{}).Trace(ctx, "ins_1")
	if err != nil {
		t.Fatalf("Trace must tolerate dangling references, got %v", err)
	}

	if len(res.Nodes) != 1 || res.Nodes[0].ChunkID != "raw_1" {
		t.Errorf("Expected only raw_1 in results, got %+v", res.Nodes)
	}
	if len(res.Report.Dangling) != 1 {
		t.Fatalf("Expected 1 dangling reference reported, got %d", len(res.Report.Dangling))
	}
	d := res.Report.Dangling[0]
	if d.SourceID != "ins_1" || d.TargetID != "ghost" || d.Marker != "[2]" {
		t.Errorf("Unexpected dangling report: %+v", d)
	}
}

func TestTrace_CycleTerminates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "ins_A", 1)
	putChunk(t, s, "ins_B", 1)
	cite(t, s, "ins_A", "ins_B", "[1]")
	cite(t, s, "ins_B", "ins_A", "[1]")

	tracer := NewTracer(s, Options{MaxDepth: 4})
	res, err := tracer.Trace(ctx, "ins_A")
	if err != nil {
		t.Fatalf("Trace over a cycle must terminate cleanly, got %v", err)
	}

	// One node per depth level up to the cutoff.
	if len(res.Nodes) != 4 {
		t.Errorf("Expected 4 nodes at depths 1..4, got %d", len(res.Nodes))
	}
	for _, n := range res.Nodes {
		if n.Depth < 1 || n.Depth > 4 {
			t.Errorf("Node %s at depth %d exceeds cutoff", n.ChunkID, n.Depth)
		}
	}
	if !res.Report.Truncated() {
		t.Error("Expected truncation to be reported for cyclic input")
	}
}

func TestTrace_DefaultMaxDepth(t *testing.T) {
	tracer := NewTracer(newTestStore(t), Options{})
	if tracer.maxDepth != DefaultMaxDepth {
		t.Errorf("Expected default max depth %d, got %d", DefaultMaxDepth, tracer.maxDepth)
	}
}

func TestTrace_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_A", 0)
	putChunk(t, s, "raw_B", 0)
	putChunk(t, s, "ins_1", 1)
	putChunk(t, s, "ins_2", 2)
	cite(t, s, "ins_2", "ins_1", "[1]")
	cite(t, s, "ins_2", "raw_B", "[2]")
	cite(t, s, "ins_1", "raw_A", "[1]")
	cite(t, s, "ins_1", "raw_B", "[2]")

	tracer := NewTracer(s, Options{})
	first, err := tracer.Trace(ctx, "ins_2")
	if err != nil {
		t.Fatalf("First trace failed: %v", err)
	}
	second, err := tracer.Trace(ctx, "ins_2")
	if err != nil {
		t.Fatalf("Second trace failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("Repeated traces over unchanged edges differ:\n%+v\n%+v", first, second)
	}
}

func TestDirect_MatchesDepthOneSlice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	putChunk(t, s, "raw_A", 0)
	putChunk(t, s, "ins_B", 1)
	putChunk(t, s, "ins_C", 2)
	cite(t, s, "ins_C", "ins_B", "[1]")
	cite(t, s, "ins_C", "raw_A", "[2]")
	cite(t, s, "ins_B", "raw_A", "[1]")

	tracer := NewTracer(s, Options{})

	direct, err := tracer.Direct(ctx, "ins_C")
	if err != nil {
		t.Fatalf("Direct failed: %v", err)
	}

	full, err := tracer.Trace(ctx, "ins_C")
	if err != nil {
		t.Fatalf("Trace failed: %v", err)
	}
	var depthOne []Node
	for _, n := range full.Nodes {
		if n.Depth == 1 {
			depthOne = append(depthOne, n)
		}
	}

	if len(direct) != len(depthOne) {
		t.Fatalf("Direct returned %d nodes, depth-1 slice has %d", len(direct), len(depthOne))
	}
	for i := range direct {
		if direct[i].ChunkID != depthOne[i].ChunkID ||
			direct[i].Depth != depthOne[i].Depth ||
			direct[i].ParentID != depthOne[i].ParentID {
			t.Errorf("Direct[%d] = %+v, depth-1 slice has %+v", i, direct[i], depthOne[i])
		}
	}
}

func TestTrace_CancelledContext(t *testing.T) {
	s := newTestStore(t)

	putChunk(t, s, "raw_1", 0)
	putChunk(t, s, "ins_1", 1)
	cite(t, s, "ins_1", "raw_1", "[1]")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewTracer(s, Options{}).Trace(ctx, "ins_1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}
