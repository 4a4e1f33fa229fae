package citeline

import (
	"github.com/perarnes/citeline/pkg/lineage"
	"github.com/perarnes/citeline/pkg/store"
)

// Type re-exports for caller convenience

// Chunk is re-exported from store package
type Chunk = store.Chunk

// Kind is re-exported from store package
type Kind = store.Kind

// Kind constants re-exported from store package
const (
	KindRaw     = store.KindRaw
	KindInsight = store.KindInsight
)

// CitationEdge is re-exported from store package
type CitationEdge = store.CitationEdge

// SupersessionRecord is re-exported from store package
type SupersessionRecord = store.SupersessionRecord

// Node is re-exported from lineage package
type Node = lineage.Node

// Tree is re-exported from lineage package
type Tree = lineage.Tree

// TreeNode is re-exported from lineage package
type TreeNode = lineage.TreeNode

// Report is re-exported from lineage package
type Report = lineage.Report

// DanglingRef is re-exported from lineage package
type DanglingRef = lineage.DanglingRef

// Sentinel errors re-exported from store package
var (
	ErrChunkNotFound    = store.ErrChunkNotFound
	ErrDuplicateChunk   = store.ErrDuplicateChunk
	ErrInvalidChunk     = store.ErrInvalidChunk
	ErrInvalidReference = store.ErrInvalidReference
	ErrRawChunkCites    = store.ErrRawChunkCites
)
