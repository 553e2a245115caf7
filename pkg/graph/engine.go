// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package graph implements the RFDB graph engine: deterministic identifier
// hashing, the segment+delta read path, adjacency maintenance, bounded
// traversal, and flush/compact.
//
// The engine is NOT safe for concurrent use. Callers must serialize access
// externally; pkg/server wraps one engine in a reader/writer lock.
package graph

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kraklabs/rfdb/internal/debuglog"
	"github.com/kraklabs/rfdb/internal/sysmem"
	"github.com/kraklabs/rfdb/pkg/storage"
)

// autoFlushThreshold is the operation-count flush trigger. Disabled by
// default: flushing is driven by explicit Flush calls and the memory
// heuristic.
const autoFlushThreshold = int(^uint(0) >> 1)

// memoryThresholdPercent triggers a flush when system memory utilization
// reaches this level.
const memoryThresholdPercent = 80.0

// memoryCheckInterval bounds how often the memory probe runs.
const memoryCheckInterval = 5 * time.Second

// endpointTypes are the node types that terminate reachability analyses.
var endpointTypes = map[string]bool{
	"db:query":      true,
	"http:request":  true,
	"http:endpoint": true,
	"EXTERNAL":      true,
	"fs:operation":  true,
	"SIDE_EFFECT":   true,
}

// NormalizeDBPath ensures the database directory carries the .rfdb
// extension: it is appended when absent and replaces any other extension.
func NormalizeDBPath(path string) string {
	ext := filepath.Ext(path)
	if ext == ".rfdb" {
		return path
	}
	if ext != "" {
		return strings.TrimSuffix(path, ext) + ".rfdb"
	}
	return path + ".rfdb"
}

// Engine owns the segments, the delta log, and the adjacency maps, and
// exposes the public graph API.
type Engine struct {
	path string

	// Immutable memory-mapped segments; nil until the first flush.
	nodesSegment *storage.NodesSegment
	edgesSegment *storage.EdgesSegment

	// Delta log plus derived caches.
	deltaLog   *storage.DeltaLog
	deltaNodes map[storage.U128]*storage.NodeRecord
	deltaEdges []storage.EdgeRecord

	// Segment-resident ids deleted since the last flush. Cleared at flush.
	deletedSegmentIDs map[storage.U128]struct{}

	// adjacency maps src -> edge indices; reverseAdjacency maps dst ->
	// edge indices. Indices below the segment edge count address the
	// segment; segment_edge_count+i addresses deltaEdges[i].
	adjacency        map[storage.U128][]int
	reverseAdjacency map[storage.U128][]int

	metadata storage.Metadata

	opsSinceFlush   int
	lastMemoryCheck time.Time
}

// Create makes a new empty database directory at path (normalized to the
// .rfdb extension).
func Create(path string) (*Engine, error) {
	path = NormalizeDBPath(path)
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	debuglog.Logf("engine create path=%s", path)
	return newEngine(path), nil
}

// Open loads an existing database, mapping segments if present and
// starting empty otherwise. Adjacency is rebuilt by scanning every live
// segment edge exactly once.
func Open(path string) (*Engine, error) {
	path = NormalizeDBPath(path)
	debuglog.Logf("engine open path=%s", path)

	e := newEngine(path)

	nodesPath := filepath.Join(path, "nodes.bin")
	if _, err := os.Stat(nodesPath); err == nil {
		seg, err := storage.OpenNodesSegment(nodesPath)
		if err != nil {
			return nil, err
		}
		e.nodesSegment = seg
	}
	edgesPath := filepath.Join(path, "edges.bin")
	if _, err := os.Stat(edgesPath); err == nil {
		seg, err := storage.OpenEdgesSegment(edgesPath)
		if err != nil {
			e.closeSegments()
			return nil, err
		}
		e.edgesSegment = seg
	}

	// metadata.json is informational; a missing or corrupt sidecar is not
	// an error.
	if f, err := os.Open(filepath.Join(path, "metadata.json")); err == nil {
		meta, derr := decodeMetadata(f)
		f.Close()
		if derr == nil {
			e.metadata = meta
		}
	}

	e.rebuildAdjacency()
	return e, nil
}

func decodeMetadata(r io.Reader) (storage.Metadata, error) {
	var meta storage.Metadata
	if err := json.NewDecoder(r).Decode(&meta); err != nil {
		return storage.Metadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func newEngine(path string) *Engine {
	return &Engine{
		path:              path,
		deltaLog:          storage.NewDeltaLog(),
		deltaNodes:        make(map[storage.U128]*storage.NodeRecord),
		deletedSegmentIDs: make(map[storage.U128]struct{}),
		adjacency:         make(map[storage.U128][]int),
		reverseAdjacency:  make(map[storage.U128][]int),
		metadata:          storage.NewMetadata(),
	}
}

// Path returns the normalized database directory.
func (e *Engine) Path() string {
	return e.path
}

// Close releases the segment mappings. The delta is not flushed; callers
// that need durability flush first.
func (e *Engine) Close() error {
	e.closeSegments()
	return nil
}

func (e *Engine) closeSegments() {
	if e.nodesSegment != nil {
		e.nodesSegment.Close()
		e.nodesSegment = nil
	}
	if e.edgesSegment != nil {
		e.edgesSegment.Close()
		e.edgesSegment = nil
	}
}

func (e *Engine) segmentEdgeCount() int {
	if e.edgesSegment == nil {
		return 0
	}
	return e.edgesSegment.Count()
}

func (e *Engine) rebuildAdjacency() {
	e.adjacency = make(map[storage.U128][]int)
	e.reverseAdjacency = make(map[storage.U128][]int)
	seg := e.edgesSegment
	if seg == nil {
		return
	}
	for i := 0; i < seg.Count(); i++ {
		if seg.Deleted(i) {
			continue
		}
		if src, ok := seg.Src(i); ok {
			e.adjacency[src] = append(e.adjacency[src], i)
		}
		if dst, ok := seg.Dst(i); ok {
			e.reverseAdjacency[dst] = append(e.reverseAdjacency[dst], i)
		}
	}
}

// applyDelta applies one logged operation to the derived caches.
func (e *Engine) applyDelta(d storage.Delta) {
	switch op := d.(type) {
	case storage.AddNode:
		node := op.Node
		e.deltaNodes[node.ID] = &node
	case storage.DeleteNode:
		if node, ok := e.deltaNodes[op.ID]; ok {
			node.Deleted = true
		} else {
			// The node lives only in the segment; remember the tombstone
			// until the next flush elides it.
			e.deletedSegmentIDs[op.ID] = struct{}{}
		}
	case storage.AddEdge:
		idx := len(e.deltaEdges)
		e.deltaEdges = append(e.deltaEdges, op.Edge)
		globalIdx := e.segmentEdgeCount() + idx
		e.adjacency[op.Edge.Src] = append(e.adjacency[op.Edge.Src], globalIdx)
		e.reverseAdjacency[op.Edge.Dst] = append(e.reverseAdjacency[op.Edge.Dst], globalIdx)
	case storage.DeleteEdge:
		for i := range e.deltaEdges {
			edge := &e.deltaEdges[i]
			if edge.Src == op.Src && edge.Dst == op.Dst && edge.Type == op.Type {
				edge.Deleted = true
			}
		}
	case storage.UpdateNodeVersion:
		if node, ok := e.deltaNodes[op.ID]; ok {
			node.Version = op.Version
		}
	}
}

// AddNodes appends an AddNode delta per node. No deduplication: a later
// addition with the same id overwrites the delta entry.
func (e *Engine) AddNodes(nodes []storage.NodeRecord) {
	for _, n := range nodes {
		op := storage.AddNode{Node: n}
		e.deltaLog.Push(op)
		e.applyDelta(op)
	}
	e.opsSinceFlush += len(nodes)
	e.maybeAutoFlush()
}

// DeleteNode soft-deletes a node. Delta-resident nodes get their tombstone
// set; segment-resident nodes are tracked in the deleted-segment set until
// the next flush.
func (e *Engine) DeleteNode(id storage.U128) {
	op := storage.DeleteNode{ID: id}
	e.deltaLog.Push(op)
	e.applyDelta(op)
}

// AddEdges appends an AddEdge delta per edge. Unless skipValidation is
// set, edges whose endpoints do not exist are dropped with a warning.
func (e *Engine) AddEdges(edges []storage.EdgeRecord, skipValidation bool) {
	added := 0
	for _, edge := range edges {
		if !skipValidation {
			if !e.NodeExists(edge.Src) {
				debuglog.Logf("add_edges: src node not found: %s", edge.Src)
				continue
			}
			if !e.NodeExists(edge.Dst) {
				debuglog.Logf("add_edges: dst node not found: %s", edge.Dst)
				continue
			}
		}
		op := storage.AddEdge{Edge: edge}
		e.deltaLog.Push(op)
		e.applyDelta(op)
		added++
	}
	e.opsSinceFlush += added
	e.maybeAutoFlush()
}

// DeleteEdge tombstones every delta edge matching (src, dst, type).
// Segment edges are elided at the next flush.
func (e *Engine) DeleteEdge(src, dst storage.U128, edgeType string) {
	op := storage.DeleteEdge{Src: src, Dst: dst, Type: edgeType}
	e.deltaLog.Push(op)
	e.applyDelta(op)
}

// UpdateNodeVersion changes the version of a delta-resident node. Segment
// nodes are immutable until rewritten at flush.
func (e *Engine) UpdateNodeVersion(id storage.U128, version string) {
	op := storage.UpdateNodeVersion{ID: id, Version: version}
	e.deltaLog.Push(op)
	e.applyDelta(op)
}

// GetNode returns the node with the given id, consulting the delta first
// (latest wins) and falling back to the segment.
func (e *Engine) GetNode(id storage.U128) (storage.NodeRecord, bool) {
	if node, ok := e.deltaNodes[id]; ok {
		if node.Deleted {
			return storage.NodeRecord{}, false
		}
		return *node, true
	}
	if _, deleted := e.deletedSegmentIDs[id]; deleted {
		return storage.NodeRecord{}, false
	}
	if e.nodesSegment != nil {
		if idx, ok := e.nodesSegment.FindIndex(id); ok && !e.nodesSegment.Deleted(idx) {
			if rec, ok := e.nodesSegment.Record(idx); ok {
				rec.Deleted = false
				return rec, true
			}
		}
	}
	return storage.NodeRecord{}, false
}

// NodeExists reports whether a live node with the given id is visible.
func (e *Engine) NodeExists(id storage.U128) bool {
	_, ok := e.GetNode(id)
	return ok
}

// NodeIdentifier formats a readable identifier for the node:
// "TYPE:name@file", degrading to "TYPE:file", "TYPE:name", or "TYPE:id"
// as fields are absent.
func (e *Engine) NodeIdentifier(id storage.U128) (string, bool) {
	node, ok := e.GetNode(id)
	if !ok {
		return "", false
	}
	typeName := node.Type
	if typeName == "" {
		typeName = "UNKNOWN"
	}
	switch {
	case node.Name != "" && node.File != "":
		return fmt.Sprintf("%s:%s@%s", typeName, node.Name, node.File), true
	case node.File != "":
		return fmt.Sprintf("%s:%s", typeName, node.File), true
	case node.Name != "":
		return fmt.Sprintf("%s:%s", typeName, node.Name), true
	default:
		return fmt.Sprintf("%s:%s", typeName, node.ID), true
	}
}

// FindByAttr returns the ids of live nodes matching every set filter.
// The delta is scanned first; the segment scan skips ids shadowed by the
// delta and tombstoned ids.
func (e *Engine) FindByAttr(q *storage.AttrQuery) []storage.U128 {
	var result []storage.U128

	for id, node := range e.deltaNodes {
		if node.Deleted {
			continue
		}
		if matchDeltaNode(q, node) {
			result = append(result, id)
		}
	}
	deltaCount := len(result)

	if seg := e.nodesSegment; seg != nil {
		for idx := 0; idx < seg.Count(); idx++ {
			if seg.Deleted(idx) {
				continue
			}
			id, ok := seg.ID(idx)
			if !ok {
				continue
			}
			if _, shadowed := e.deltaNodes[id]; shadowed {
				continue
			}
			if _, deleted := e.deletedSegmentIDs[id]; deleted {
				continue
			}
			if matchSegmentNode(q, seg, idx) {
				result = append(result, id)
			}
		}
	}

	debuglog.Logf("find_by_attr: %d results (%d delta, %d segment)",
		len(result), deltaCount, len(result)-deltaCount)
	return result
}

func matchDeltaNode(q *storage.AttrQuery, node *storage.NodeRecord) bool {
	if q.Version != nil && node.Version != *q.Version {
		return false
	}
	if q.Type != nil && !storage.MatchesType(*q.Type, node.Type) {
		return false
	}
	if q.FileID != nil && node.FileID != *q.FileID {
		return false
	}
	if q.File != nil && node.File != *q.File {
		return false
	}
	if q.Exported != nil && node.Exported != *q.Exported {
		return false
	}
	if q.Name != nil && node.Name != *q.Name {
		return false
	}
	return true
}

func matchSegmentNode(q *storage.AttrQuery, seg *storage.NodesSegment, idx int) bool {
	if q.Type != nil {
		t, ok := seg.NodeType(idx)
		if !ok || !storage.MatchesType(*q.Type, t) {
			return false
		}
	}
	if q.FileID != nil {
		fid, ok := seg.FileID(idx)
		if !ok || fid != *q.FileID {
			return false
		}
	}
	if q.File != nil {
		f, ok := seg.FilePath(idx)
		if !ok || f != *q.File {
			return false
		}
	}
	if q.Name != nil {
		n, ok := seg.Name(idx)
		if !ok || n != *q.Name {
			return false
		}
	}
	if q.Version != nil {
		v, ok := seg.Version(idx)
		if !ok || v != *q.Version {
			return false
		}
	}
	if q.Exported != nil {
		exp, ok := seg.Exported(idx)
		if !ok || exp != *q.Exported {
			return false
		}
	}
	return true
}

// FindByType returns the ids of live nodes whose type matches nodeType,
// honoring the trailing '*' prefix wildcard.
func (e *Engine) FindByType(nodeType string) []storage.U128 {
	return e.FindByAttr(&storage.AttrQuery{Type: &nodeType})
}

// matchesEdgeType applies the traversal filter convention: an empty filter
// matches any type; otherwise the edge type must be present and listed.
func matchesEdgeType(edgeType string, ok bool, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	if !ok {
		return false
	}
	for _, t := range filter {
		if t == edgeType {
			return true
		}
	}
	return false
}

// Neighbors returns the destinations of live outgoing edges of id,
// optionally restricted to the given edge types. Multiset semantics:
// parallel edges yield repeated destinations.
func (e *Engine) Neighbors(id storage.U128, edgeTypes []string) []storage.U128 {
	var result []storage.U128
	segCount := e.segmentEdgeCount()

	for _, idx := range e.adjacency[id] {
		if idx < segCount {
			seg := e.edgesSegment
			if seg.Deleted(idx) {
				continue
			}
			dst, ok := seg.Dst(idx)
			if !ok {
				continue
			}
			et, etOK := seg.EdgeType(idx)
			if matchesEdgeType(et, etOK, edgeTypes) {
				result = append(result, dst)
			}
		} else {
			edge := &e.deltaEdges[idx-segCount]
			if edge.Deleted || edge.Src != id {
				continue
			}
			if matchesEdgeType(edge.Type, edge.Type != "", edgeTypes) {
				result = append(result, edge.Dst)
			}
		}
	}
	return result
}

// ReverseNeighbors returns the sources of live incoming edges of id.
func (e *Engine) ReverseNeighbors(id storage.U128, edgeTypes []string) []storage.U128 {
	var result []storage.U128
	segCount := e.segmentEdgeCount()

	for _, idx := range e.reverseAdjacency[id] {
		if idx < segCount {
			seg := e.edgesSegment
			if seg.Deleted(idx) {
				continue
			}
			src, ok := seg.Src(idx)
			if !ok {
				continue
			}
			et, etOK := seg.EdgeType(idx)
			if matchesEdgeType(et, etOK, edgeTypes) {
				result = append(result, src)
			}
		} else {
			edge := &e.deltaEdges[idx-segCount]
			if edge.Deleted || edge.Dst != id {
				continue
			}
			if matchesEdgeType(edge.Type, edge.Type != "", edgeTypes) {
				result = append(result, edge.Src)
			}
		}
	}
	return result
}

// OutgoingEdges returns full records of live outgoing edges of id.
func (e *Engine) OutgoingEdges(id storage.U128, edgeTypes []string) []storage.EdgeRecord {
	var result []storage.EdgeRecord
	segCount := e.segmentEdgeCount()

	for _, idx := range e.adjacency[id] {
		if idx < segCount {
			seg := e.edgesSegment
			if seg.Deleted(idx) {
				continue
			}
			rec, ok := seg.Record(idx)
			if !ok {
				continue
			}
			if matchesEdgeType(rec.Type, rec.Type != "", edgeTypes) {
				rec.Deleted = false
				result = append(result, rec)
			}
		} else {
			edge := e.deltaEdges[idx-segCount]
			if edge.Deleted || edge.Src != id {
				continue
			}
			if matchesEdgeType(edge.Type, edge.Type != "", edgeTypes) {
				result = append(result, edge)
			}
		}
	}
	return result
}

// IncomingEdges returns full records of live incoming edges of id.
func (e *Engine) IncomingEdges(id storage.U128, edgeTypes []string) []storage.EdgeRecord {
	var result []storage.EdgeRecord
	segCount := e.segmentEdgeCount()

	for _, idx := range e.reverseAdjacency[id] {
		if idx < segCount {
			seg := e.edgesSegment
			if seg.Deleted(idx) {
				continue
			}
			rec, ok := seg.Record(idx)
			if !ok {
				continue
			}
			if matchesEdgeType(rec.Type, rec.Type != "", edgeTypes) {
				rec.Deleted = false
				result = append(result, rec)
			}
		} else {
			edge := e.deltaEdges[idx-segCount]
			if edge.Deleted || edge.Dst != id {
				continue
			}
			if matchesEdgeType(edge.Type, edge.Type != "", edgeTypes) {
				result = append(result, edge)
			}
		}
	}
	return result
}

// AllEdges returns every live edge, deduplicated on (src, dst, type) with
// delta entries preferred. Neighbors, ReverseNeighbors, OutgoingEdges and
// IncomingEdges keep parallel edges; this read does not.
func (e *Engine) AllEdges() []storage.EdgeRecord {
	type key struct {
		src, dst storage.U128
		typ      string
	}
	seen := make(map[key]storage.EdgeRecord)

	for _, edge := range e.deltaEdges {
		if edge.Deleted {
			continue
		}
		seen[key{edge.Src, edge.Dst, edge.Type}] = edge
	}
	if seg := e.edgesSegment; seg != nil {
		for idx := 0; idx < seg.Count(); idx++ {
			if seg.Deleted(idx) {
				continue
			}
			rec, ok := seg.Record(idx)
			if !ok {
				continue
			}
			k := key{rec.Src, rec.Dst, rec.Type}
			if _, exists := seen[k]; !exists {
				rec.Deleted = false
				seen[k] = rec
			}
		}
	}

	result := make([]storage.EdgeRecord, 0, len(seen))
	for _, edge := range seen {
		result = append(result, edge)
	}
	return result
}

// BFS runs a bounded breadth-first traversal over forward edges.
func (e *Engine) BFS(start []storage.U128, maxDepth int, edgeTypes []string) []storage.U128 {
	return BFS(start, maxDepth, func(id storage.U128) []storage.U128 {
		return e.Neighbors(id, edgeTypes)
	})
}

// DFS runs a bounded depth-first traversal over forward edges.
func (e *Engine) DFS(start []storage.U128, maxDepth int, edgeTypes []string) []storage.U128 {
	return DFS(start, maxDepth, func(id storage.U128) []storage.U128 {
		return e.Neighbors(id, edgeTypes)
	})
}

// Reachability returns all nodes reachable from start within maxDepth,
// traversing reverse edges when backward is set.
func (e *Engine) Reachability(start []storage.U128, maxDepth int, edgeTypes []string, backward bool) []storage.U128 {
	if backward {
		return BFS(start, maxDepth, func(id storage.U128) []storage.U128 {
			return e.ReverseNeighbors(id, edgeTypes)
		})
	}
	return e.BFS(start, maxDepth, edgeTypes)
}

// IsEndpoint reports whether the node denotes an externally observable
// effect: one of the endpoint types, or an exported FUNCTION.
func (e *Engine) IsEndpoint(id storage.U128) bool {
	node, ok := e.GetNode(id)
	if !ok {
		return false
	}
	if endpointTypes[node.Type] {
		return true
	}
	return node.Type == "FUNCTION" && node.Exported
}

// NodeCount returns segment count plus delta size. Tombstones are not
// subtracted; the value is approximate by design.
func (e *Engine) NodeCount() int {
	n := len(e.deltaNodes)
	if e.nodesSegment != nil {
		n += e.nodesSegment.Count()
	}
	return n
}

// EdgeCount returns segment count plus delta size, tombstones included.
func (e *Engine) EdgeCount() int {
	n := len(e.deltaEdges)
	if e.edgesSegment != nil {
		n += e.edgesSegment.Count()
	}
	return n
}

func matchesTypeFilter(t string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, pattern := range filter {
		if storage.MatchesType(pattern, t) {
			return true
		}
	}
	return false
}

// CountNodesByType returns accurate per-type node counts, honoring
// tombstones and delta-shadows-segment. The filter supports wildcards.
func (e *Engine) CountNodesByType(types []string) map[string]int {
	counts := make(map[string]int)
	seen := make(map[storage.U128]struct{})

	for id, node := range e.deltaNodes {
		if node.Deleted {
			continue
		}
		t := node.Type
		if t == "" {
			t = "UNKNOWN"
		}
		seen[id] = struct{}{}
		if !matchesTypeFilter(t, types) {
			continue
		}
		counts[t]++
	}

	if seg := e.nodesSegment; seg != nil {
		for idx := 0; idx < seg.Count(); idx++ {
			if seg.Deleted(idx) {
				continue
			}
			id, ok := seg.ID(idx)
			if !ok {
				continue
			}
			if _, shadowed := seen[id]; shadowed {
				continue
			}
			if _, deleted := e.deletedSegmentIDs[id]; deleted {
				continue
			}
			t, ok := seg.NodeType(idx)
			if !ok {
				t = "UNKNOWN"
			}
			if !matchesTypeFilter(t, types) {
				continue
			}
			counts[t]++
		}
	}
	return counts
}

// CountEdgesByType returns accurate per-type edge counts with delta
// entries shadowing identical segment tuples.
func (e *Engine) CountEdgesByType(edgeTypes []string) map[string]int {
	type key struct {
		src, dst storage.U128
		typ      string
	}
	counts := make(map[string]int)
	seen := make(map[key]struct{})

	for _, edge := range e.deltaEdges {
		if edge.Deleted {
			continue
		}
		t := edge.Type
		if t == "" {
			t = "UNKNOWN"
		}
		seen[key{edge.Src, edge.Dst, t}] = struct{}{}
		if !matchesTypeFilter(t, edgeTypes) {
			continue
		}
		counts[t]++
	}

	if seg := e.edgesSegment; seg != nil {
		for idx := 0; idx < seg.Count(); idx++ {
			if seg.Deleted(idx) {
				continue
			}
			src, ok := seg.Src(idx)
			if !ok {
				continue
			}
			dst, _ := seg.Dst(idx)
			t, ok := seg.EdgeType(idx)
			if !ok {
				t = "UNKNOWN"
			}
			k := key{src, dst, t}
			if _, dup := seen[k]; dup {
				continue
			}
			if !matchesTypeFilter(t, edgeTypes) {
				continue
			}
			counts[t]++
		}
	}
	return counts
}

// NodesByVersion returns ids of live delta nodes carrying the version.
func (e *Engine) NodesByVersion(version string) []storage.U128 {
	var result []storage.U128
	for id, node := range e.deltaNodes {
		if !node.Deleted && node.Version == version {
			result = append(result, id)
		}
	}
	return result
}

// DeleteVersion tombstones every delta node and edge carrying the version.
func (e *Engine) DeleteVersion(version string) {
	for _, node := range e.deltaNodes {
		if node.Version == version {
			node.Deleted = true
		}
	}
	for i := range e.deltaEdges {
		if e.deltaEdges[i].Version == version {
			e.deltaEdges[i].Deleted = true
		}
	}
}

// PromoteLocalToMain promotes every "__local" node and edge to "main",
// tombstoning the main nodes they replace.
func (e *Engine) PromoteLocalToMain() {
	var replaced []storage.U128
	for _, node := range e.deltaNodes {
		if node.Version == "__local" && node.Replaces != nil {
			replaced = append(replaced, *node.Replaces)
		}
	}
	for _, id := range replaced {
		if node, ok := e.deltaNodes[id]; ok {
			node.Deleted = true
		} else {
			e.deletedSegmentIDs[id] = struct{}{}
		}
	}
	for _, node := range e.deltaNodes {
		if node.Version == "__local" {
			node.Version = "main"
			node.Replaces = nil
		}
	}
	for i := range e.deltaEdges {
		if e.deltaEdges[i].Version == "__local" {
			e.deltaEdges[i].Version = "main"
		}
	}
}

// Clear drops all data, delta and segments alike.
func (e *Engine) Clear() {
	e.deltaLog.Clear()
	e.deltaNodes = make(map[storage.U128]*storage.NodeRecord)
	e.deltaEdges = nil
	e.deletedSegmentIDs = make(map[storage.U128]struct{})
	e.adjacency = make(map[storage.U128][]int)
	e.reverseAdjacency = make(map[storage.U128][]int)
	e.closeSegments()
	e.metadata = storage.NewMetadata()
	e.opsSinceFlush = 0
}

// maybeAutoFlush runs the best-effort flush triggers: the operation
// counter threshold and the system memory heuristic. Failures are logged
// and never surface to the caller.
func (e *Engine) maybeAutoFlush() {
	if e.opsSinceFlush >= autoFlushThreshold {
		debuglog.Logf("auto-flush: %d ops reached threshold", e.opsSinceFlush)
		if err := e.Flush(); err != nil {
			debuglog.Logf("auto-flush failed: %v", err)
		}
		return
	}

	now := time.Now()
	if !e.lastMemoryCheck.IsZero() && now.Sub(e.lastMemoryCheck) < memoryCheckInterval {
		return
	}
	e.lastMemoryCheck = now
	if used := sysmem.UsedPercent(); used >= memoryThresholdPercent {
		debuglog.Logf("memory flush: %.1f%% used, flushing %d operations", used, e.opsSinceFlush)
		if err := e.Flush(); err != nil {
			debuglog.Logf("memory-triggered flush failed: %v", err)
		}
	}
}

// Flush consolidates segment and delta into a fresh snapshot, rewrites
// each segment file atomically, clears the delta caches, reopens the
// mappings, and rebuilds adjacency. Every write accepted before Flush is
// durable after it returns.
func (e *Engine) Flush() error {
	if e.deltaLog.Empty() {
		return nil
	}
	debuglog.Logf("flush: %d operations, %d delta nodes, %d delta edges",
		e.deltaLog.Len(), len(e.deltaNodes), len(e.deltaEdges))

	// Consolidate nodes: live segment rows not shadowed by the delta and
	// not tombstoned, then live delta rows. A snapshot never contains two
	// records with the same id.
	var allNodes []storage.NodeRecord
	if seg := e.nodesSegment; seg != nil {
		for idx := 0; idx < seg.Count(); idx++ {
			if seg.Deleted(idx) {
				continue
			}
			id, ok := seg.ID(idx)
			if !ok {
				continue
			}
			if _, deleted := e.deletedSegmentIDs[id]; deleted {
				continue
			}
			if _, shadowed := e.deltaNodes[id]; shadowed {
				continue
			}
			rec, ok := seg.Record(idx)
			if !ok {
				continue
			}
			rec.Deleted = false
			rec.FileID = 0
			rec.NameOffset = 0
			allNodes = append(allNodes, rec)
		}
	}
	for _, node := range e.deltaNodes {
		if node.Deleted {
			continue
		}
		rec := *node
		rec.FileID = 0
		rec.NameOffset = 0
		allNodes = append(allNodes, rec)
	}

	// Consolidate edges: no deduplication, segment first then delta.
	var allEdges []storage.EdgeRecord
	if seg := e.edgesSegment; seg != nil {
		for idx := 0; idx < seg.Count(); idx++ {
			if seg.Deleted(idx) {
				continue
			}
			rec, ok := seg.Record(idx)
			if !ok {
				continue
			}
			rec.Deleted = false
			allEdges = append(allEdges, rec)
		}
	}
	for _, edge := range e.deltaEdges {
		if !edge.Deleted {
			allEdges = append(allEdges, edge)
		}
	}

	// Drop read handles before rewriting.
	e.closeSegments()

	w := storage.NewSegmentWriter(e.path)
	if err := w.WriteNodes(allNodes); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCompaction, err)
	}
	if err := w.WriteEdges(allEdges); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCompaction, err)
	}

	e.metadata.NodeCount = uint64(len(allNodes))
	e.metadata.EdgeCount = uint64(len(allEdges))
	e.metadata.UpdatedAt = time.Now().Unix()
	if err := w.WriteMetadata(e.metadata); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrCompaction, err)
	}

	e.deltaLog.Clear()
	e.deltaNodes = make(map[storage.U128]*storage.NodeRecord)
	e.deltaEdges = nil
	e.deletedSegmentIDs = make(map[storage.U128]struct{})

	nodesSeg, err := storage.OpenNodesSegment(filepath.Join(e.path, "nodes.bin"))
	if err != nil {
		return fmt.Errorf("%w: reopen nodes: %v", storage.ErrCompaction, err)
	}
	e.nodesSegment = nodesSeg
	edgesSeg, err := storage.OpenEdgesSegment(filepath.Join(e.path, "edges.bin"))
	if err != nil {
		return fmt.Errorf("%w: reopen edges: %v", storage.ErrCompaction, err)
	}
	e.edgesSegment = edgesSeg

	e.rebuildAdjacency()
	e.opsSinceFlush = 0

	debuglog.Logf("flush complete: %d nodes, %d edges", len(allNodes), len(allEdges))
	return nil
}

// Compact is equivalent to Flush in this design.
func (e *Engine) Compact() error {
	return e.Flush()
}
