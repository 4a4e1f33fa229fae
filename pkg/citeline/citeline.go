// Package citeline tracks provenance of synthesized insights back through
// intermediate insights to their raw sources, across any number of
// compounding stages.
package citeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/perarnes/citeline/pkg/lineage"
	"github.com/perarnes/citeline/pkg/metrics"
	"github.com/perarnes/citeline/pkg/store"
	"github.com/perarnes/citeline/pkg/trace"
)

// Config holds configuration for a Citeline instance.
type Config struct {
	// DBPath is the SQLite database path, or ":memory:" for ephemeral use.
	DBPath string

	// MaxDepth bounds lineage traversal depth (default 10). A safety valve
	// against citation cycles, not a semantic limit.
	MaxDepth int

	// MetricsEnabled switches between the Prometheus collector and a no-op.
	MetricsEnabled bool

	// TraceEnabled turns on operation-trace export.
	TraceEnabled bool

	// TracePath is the JSONL trace file path (default "citeline-traces.jsonl").
	TracePath string
}

// Citeline is the main entry point of the lineage engine. The store handle
// is constructed here and closed by Close; there is no global connection.
type Citeline struct {
	config   Config
	store    *store.SQLiteStore
	tracer   *lineage.Tracer
	metrics  metrics.Collector
	exporter trace.Exporter
	logger   *slog.Logger
}

// New creates a new Citeline instance, opening the backing store.
func New(cfg Config) (*Citeline, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = ":memory:"
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = lineage.DefaultMaxDepth
	}
	if cfg.TracePath == "" {
		cfg.TracePath = "citeline-traces.jsonl"
	}

	s, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var collector metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	} else {
		collector = metrics.NewNoopCollector()
	}

	var exporter trace.Exporter
	if cfg.TraceEnabled {
		exporter, err = trace.NewFileExporter(cfg.TracePath)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open trace exporter: %w", err)
		}
	}

	logger := slog.Default()

	return &Citeline{
		config: cfg,
		store:  s,
		tracer: lineage.NewTracer(s, lineage.Options{
			MaxDepth: cfg.MaxDepth,
			Logger:   logger,
		}),
		metrics:  collector,
		exporter: exporter,
		logger:   logger,
	}, nil
}

// WithLogger sets the structured logger. Nil-safe: a nil logger falls back
// to slog.Default. Returns the instance for chaining.
func (c *Citeline) WithLogger(logger *slog.Logger) *Citeline {
	if logger == nil {
		logger = slog.Default()
	}
	c.logger = logger
	c.tracer = lineage.NewTracer(c.store, lineage.Options{
		MaxDepth: c.config.MaxDepth,
		Logger:   logger,
	})
	return c
}

// Store exposes the underlying store for seed and ingestion tooling.
func (c *Citeline) Store() *store.SQLiteStore {
	return c.store
}

// Metrics returns the configured metrics collector.
func (c *Citeline) Metrics() metrics.Collector {
	return c.metrics
}

// Close releases the store and flushes the trace exporter.
func (c *Citeline) Close() error {
	if c.exporter != nil {
		if err := c.exporter.Close(); err != nil {
			c.store.Close()
			return fmt.Errorf("failed to close trace exporter: %w", err)
		}
	}
	return c.store.Close()
}

// PutChunk inserts a new immutable chunk.
func (c *Citeline) PutChunk(ctx context.Context, chunk *store.Chunk) error {
	op := c.startOp("put_chunk")

	st := op.startSpan("write")
	err := c.store.PutChunk(ctx, chunk)
	st.finish(err == nil, err, nil)

	if err == nil {
		c.logger.Debug("chunk stored", "chunk", chunk.ID, "stage", chunk.Stage, "kind", chunk.Kind)
		op.record.IDs = map[string]interface{}{"chunk": chunk.ID}
		c.updateStorageGauges(ctx)
	}
	c.finishOp(ctx, op, err)
	return err
}

// AddEdge records that the source chunk cites the target chunk under the
// given inline marker.
func (c *Citeline) AddEdge(ctx context.Context, sourceID, targetID, marker string) (*store.CitationEdge, error) {
	op := c.startOp("add_edge")

	edge := &store.CitationEdge{
		SourceID: sourceID,
		TargetID: targetID,
		Marker:   marker,
	}

	st := op.startSpan("write")
	err := c.store.AddEdge(ctx, edge)
	st.finish(err == nil, err, nil)

	if err != nil {
		c.finishOp(ctx, op, err)
		return nil, err
	}

	c.logger.Debug("citation recorded", "source", sourceID, "target", targetID, "marker", marker)
	op.record.IDs = map[string]interface{}{"edge": edge.ID, "source": sourceID, "target": targetID}
	c.updateStorageGauges(ctx)
	c.finishOp(ctx, op, nil)
	return edge, nil
}

// GetChunk retrieves a chunk by id. Returns store.ErrChunkNotFound on a
// miss; callers treat that as a normal branch.
func (c *Citeline) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	return c.store.GetChunk(ctx, id)
}

// GetDirectCitations returns the depth-1 citations of the given chunk,
// exactly the depth-1 subset of GetFullLineage over the same edges.
func (c *Citeline) GetDirectCitations(ctx context.Context, id string) ([]lineage.Node, error) {
	op := c.startOp("direct_citations")

	st := op.startSpan("expand")
	nodes, err := c.tracer.Direct(ctx, id)
	st.finish(err == nil, err, map[string]int64{"nodeCount": int64(len(nodes))})

	op.record.IDs = map[string]interface{}{"root": id}
	c.finishOp(ctx, op, err)
	return nodes, err
}

// GetFullLineage computes the complete provenance tree of the given chunk.
// Dangling references and depth truncation never fail the query; they are
// reported on Tree.Report alongside the usable partial result.
func (c *Citeline) GetFullLineage(ctx context.Context, id string) (*lineage.Tree, error) {
	op := c.startOp("lineage")
	op.record.IDs = map[string]interface{}{"root": id}

	st := op.startSpan("expand")
	res, err := c.tracer.Trace(ctx, id)
	if err != nil {
		st.finish(false, err, nil)
		c.finishOp(ctx, op, err)
		return nil, err
	}
	st.finish(true, nil, map[string]int64{
		"nodeCount":      int64(len(res.Nodes)),
		"danglingCount":  int64(len(res.Report.Dangling)),
		"truncatedCount": int64(len(res.Report.TruncatedAt)),
	})

	st = op.startSpan("assemble")
	tree, err := lineage.Assemble(ctx, c.store, res)
	st.finish(err == nil, err, nil)
	if err != nil {
		c.finishOp(ctx, op, err)
		return nil, err
	}

	if tree.Report.Truncated() {
		c.logger.Warn("lineage truncated", "root", id, "max_depth", c.config.MaxDepth)
	}
	c.finishOp(ctx, op, nil)
	return tree, nil
}

// CitedBy returns the citation edges whose target is the given chunk.
func (c *Citeline) CitedBy(ctx context.Context, id string) ([]*store.CitationEdge, error) {
	return c.store.Incoming(ctx, id)
}

// Supersede corrects a published chunk by inserting a replacement and
// flagging the old chunk. The old chunk and its edges stay queryable.
func (c *Citeline) Supersede(ctx context.Context, replacement *store.Chunk, oldID, reason string) error {
	op := c.startOp("supersede")

	st := op.startSpan("write")
	err := c.store.Supersede(ctx, replacement, oldID, reason)
	st.finish(err == nil, err, nil)

	if err == nil {
		c.logger.Debug("chunk superseded", "old", oldID, "new", replacement.ID)
		op.record.IDs = map[string]interface{}{"old": oldID, "new": replacement.ID}
		c.updateStorageGauges(ctx)
	}
	c.finishOp(ctx, op, err)
	return err
}

// updateStorageGauges refreshes the chunk/edge count gauges after a write.
// Gauge staleness is tolerable, so failures only log.
func (c *Citeline) updateStorageGauges(ctx context.Context) {
	if chunks, err := c.store.ChunkCount(ctx); err == nil {
		c.metrics.SetStorageCount(ctx, "chunks", chunks)
	} else {
		c.logger.Debug("failed to refresh chunk gauge", "error", err)
	}
	if edges, err := c.store.EdgeCount(ctx); err == nil {
		c.metrics.SetStorageCount(ctx, "edges", edges)
	} else {
		c.logger.Debug("failed to refresh edge gauge", "error", err)
	}
}

// startOp begins an instrumented operation.
func (c *Citeline) startOp(operation string) *opState {
	return &opState{
		operation: operation,
		start:     time.Now(),
		record: &trace.TraceRecord{
			Timestamp:   time.Now(),
			OperationID: uuid.New().String(),
			Operation:   operation,
		},
	}
}

// finishOp records metrics for the operation and exports its trace.
func (c *Citeline) finishOp(ctx context.Context, op *opState, err error) {
	durationMs := time.Since(op.start).Milliseconds()

	status := "success"
	if err != nil {
		status = "error"
		errType := ClassifyError(err)
		op.record.ErrorType = errType
		c.metrics.RecordError(ctx, op.operation, errType)
	}
	c.metrics.RecordOperation(ctx, op.operation, status, durationMs)
	for _, span := range op.record.Spans {
		c.metrics.RecordStage(ctx, op.operation, span.Name, span.DurationMs)
	}

	op.record.DurationMs = durationMs
	op.record.Status = status

	if c.exporter != nil {
		if exportErr := c.exporter.Export(ctx, op.record); exportErr != nil {
			c.logger.Debug("failed to export trace", "operation", op.operation, "error", exportErr)
		}
	}
}
