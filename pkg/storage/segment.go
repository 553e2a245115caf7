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

package storage

import (
	"encoding/binary"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// Magic identifies a segment file ("Semantic GRaph Format").
const Magic = "SGRF"

// FormatVersion is the supported on-disk format version.
const FormatVersion uint16 = 1

// headerSize is the on-disk header size: magic(4) + version(2) +
// node_count(8) + edge_count(8) + string_table_offset(8). No padding.
const headerSize = 4 + 2 + 8 + 8 + 8

// segmentHeader is the common 30-byte header of nodes.bin and edges.bin.
type segmentHeader struct {
	version           uint16
	nodeCount         uint64
	edgeCount         uint64
	stringTableOffset uint64
}

func parseHeader(b []byte) (segmentHeader, error) {
	if len(b) < headerSize {
		return segmentHeader{}, fmt.Errorf("%w: file smaller than header (%d bytes)", ErrInvalidFormat, len(b))
	}
	if string(b[0:4]) != Magic {
		return segmentHeader{}, fmt.Errorf("%w: bad magic %q", ErrInvalidFormat, b[0:4])
	}
	h := segmentHeader{
		version:           binary.LittleEndian.Uint16(b[4:6]),
		nodeCount:         binary.LittleEndian.Uint64(b[6:14]),
		edgeCount:         binary.LittleEndian.Uint64(b[14:22]),
		stringTableOffset: binary.LittleEndian.Uint64(b[22:30]),
	}
	if h.version != FormatVersion {
		return segmentHeader{}, fmt.Errorf("%w: unsupported format version %d", ErrInvalidFormat, h.version)
	}
	return h, nil
}

func (h segmentHeader) encode(b []byte) {
	copy(b[0:4], Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.version)
	binary.LittleEndian.PutUint64(b[6:14], h.nodeCount)
	binary.LittleEndian.PutUint64(b[14:22], h.edgeCount)
	binary.LittleEndian.PutUint64(b[22:30], h.stringTableOffset)
}

// readU128 decodes a little-endian u128 at off, copying through a buffer to
// tolerate unaligned access.
func readU128(m []byte, off int) U128 {
	var buf [16]byte
	copy(buf[:], m[off:off+16])
	return U128FromLE(buf[:])
}

func readU32(m []byte, off int) uint32 {
	var buf [4]byte
	copy(buf[:], m[off:off+4])
	return binary.LittleEndian.Uint32(buf[:])
}

// NodesSegment is an immutable, memory-mapped node snapshot. Fixed-width
// columns are read from the mapping; string accessors resolve through the
// string table, which is decoded into memory when the segment opens.
// Accessors return ok=false for
// out-of-range indices, absent offsets, and invalid UTF-8, and never panic
// on malformed fields.
type NodesSegment struct {
	f     *os.File
	m     mmap.MMap
	count int

	// Column start offsets within the mapping, in declared order.
	idsOff      int
	typeOff     int
	fileIDOff   int
	nameOff     int
	versionOff  int
	exportedOff int
	deletedOff  int
	metadataOff int

	st *StringTable
}

// OpenNodesSegment maps nodes.bin read-only and validates its header.
func OpenNodesSegment(path string) (*NodesSegment, error) {
	f, m, hdr, err := openSegmentFile(path)
	if err != nil {
		return nil, err
	}

	count := int(hdr.nodeCount)
	s := &NodesSegment{f: f, m: m, count: count}
	off := headerSize
	s.idsOff = off
	off += count * 16
	s.typeOff = off
	off += count * 4
	s.fileIDOff = off
	off += count * 4
	s.nameOff = off
	off += count * 4
	s.versionOff = off
	off += count * 4
	s.exportedOff = off
	off += count
	s.deletedOff = off
	off += count
	s.metadataOff = off
	off += count * 4

	if off > len(m) {
		s.Close()
		return nil, fmt.Errorf("%w: nodes segment truncated (%d columns bytes, %d mapped)", ErrInvalidFormat, off, len(m))
	}
	s.st = loadSegmentStrings(m, hdr)
	return s, nil
}

func openSegmentFile(path string) (*os.File, mmap.MMap, segmentHeader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, segmentHeader{}, fmt.Errorf("open segment: %w", err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, nil, segmentHeader{}, fmt.Errorf("mmap segment: %w", err)
	}
	hdr, err := parseHeader(m)
	if err != nil {
		m.Unmap()
		f.Close()
		return nil, nil, segmentHeader{}, err
	}
	return f, m, hdr, nil
}

// loadSegmentStrings decodes the embedded string table. A missing or
// corrupt table degrades to nil; string accessors then report absent.
func loadSegmentStrings(m []byte, hdr segmentHeader) *StringTable {
	if hdr.stringTableOffset == 0 || hdr.stringTableOffset >= uint64(len(m)) {
		return nil
	}
	st, err := LoadStringTable(m[hdr.stringTableOffset:])
	if err != nil {
		return nil
	}
	return st
}

// Close unmaps the segment and closes the underlying file.
func (s *NodesSegment) Close() error {
	var err error
	if s.m != nil {
		err = s.m.Unmap()
		s.m = nil
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
		s.f = nil
	}
	return err
}

// Count returns the number of node rows, tombstoned rows included.
func (s *NodesSegment) Count() int { return s.count }

// ID returns the node id at index i.
func (s *NodesSegment) ID(i int) (U128, bool) {
	if i < 0 || i >= s.count {
		return U128{}, false
	}
	return readU128(s.m, s.idsOff+i*16), true
}

// TypeOffset returns the raw string-table offset of the type column.
func (s *NodesSegment) TypeOffset(i int) (uint32, bool) {
	if i < 0 || i >= s.count {
		return 0, false
	}
	return readU32(s.m, s.typeOff+i*4), true
}

// NodeType resolves the type string; 0 means the node has no type.
func (s *NodesSegment) NodeType(i int) (string, bool) {
	off, ok := s.TypeOffset(i)
	if !ok || off == 0 || s.st == nil {
		return "", false
	}
	return s.st.Get(off)
}

// FileID returns the raw file_id column value (string-table offset+1,
// 0 = absent).
func (s *NodesSegment) FileID(i int) (uint32, bool) {
	if i < 0 || i >= s.count {
		return 0, false
	}
	return readU32(s.m, s.fileIDOff+i*4), true
}

// FilePath resolves the file path via the offset+1 convention.
func (s *NodesSegment) FilePath(i int) (string, bool) {
	id, ok := s.FileID(i)
	if !ok || id == 0 || s.st == nil {
		return "", false
	}
	return s.st.Get(id - 1)
}

// NameOffset returns the raw name column value (offset+1, 0 = absent).
func (s *NodesSegment) NameOffset(i int) (uint32, bool) {
	if i < 0 || i >= s.count {
		return 0, false
	}
	return readU32(s.m, s.nameOff+i*4), true
}

// Name resolves the node name via the offset+1 convention.
func (s *NodesSegment) Name(i int) (string, bool) {
	off, ok := s.NameOffset(i)
	if !ok || off == 0 || s.st == nil {
		return "", false
	}
	return s.st.Get(off - 1)
}

// Version resolves the version string (raw offset column).
func (s *NodesSegment) Version(i int) (string, bool) {
	if i < 0 || i >= s.count || s.st == nil {
		return "", false
	}
	return s.st.Get(readU32(s.m, s.versionOff+i*4))
}

// Metadata resolves the metadata JSON document (raw offset, 0 = absent).
func (s *NodesSegment) Metadata(i int) (string, bool) {
	if i < 0 || i >= s.count || s.st == nil {
		return "", false
	}
	off := readU32(s.m, s.metadataOff+i*4)
	if off == 0 {
		return "", false
	}
	return s.st.Get(off)
}

// Exported returns the exported flag at index i.
func (s *NodesSegment) Exported(i int) (bool, bool) {
	if i < 0 || i >= s.count {
		return false, false
	}
	return s.m[s.exportedOff+i] != 0, true
}

// Deleted reports whether the row is tombstoned. Out-of-range rows report
// false.
func (s *NodesSegment) Deleted(i int) bool {
	if i < 0 || i >= s.count {
		return false
	}
	return s.m[s.deletedOff+i] != 0
}

// FindIndex locates the first row with the given id. The scan is linear;
// duplicate ids resolve to the first match.
func (s *NodesSegment) FindIndex(id U128) (int, bool) {
	for i := 0; i < s.count; i++ {
		if readU128(s.m, s.idsOff+i*16) == id {
			return i, true
		}
	}
	return 0, false
}

// Record materializes the full node record at index i, resolving every
// string offset. Tombstoned rows still materialize; the caller filters.
func (s *NodesSegment) Record(i int) (NodeRecord, bool) {
	id, ok := s.ID(i)
	if !ok {
		return NodeRecord{}, false
	}
	rec := NodeRecord{ID: id, Version: "main", Deleted: s.Deleted(i)}
	if t, ok := s.NodeType(i); ok {
		rec.Type = t
	}
	if v, ok := s.Version(i); ok {
		rec.Version = v
	}
	if e, ok := s.Exported(i); ok {
		rec.Exported = e
	}
	if n, ok := s.Name(i); ok {
		rec.Name = n
	}
	if f, ok := s.FilePath(i); ok {
		rec.File = f
	}
	if m, ok := s.Metadata(i); ok {
		rec.Metadata = m
	}
	if fid, ok := s.FileID(i); ok {
		rec.FileID = fid
	}
	if noff, ok := s.NameOffset(i); ok {
		rec.NameOffset = noff
	}
	return rec, true
}

// EdgesSegment is an immutable, memory-mapped edge snapshot.
type EdgesSegment struct {
	f     *os.File
	m     mmap.MMap
	count int

	srcOff      int
	dstOff      int
	typeOff     int
	metadataOff int
	deletedOff  int

	st *StringTable
}

// OpenEdgesSegment maps edges.bin read-only and validates its header.
func OpenEdgesSegment(path string) (*EdgesSegment, error) {
	f, m, hdr, err := openSegmentFile(path)
	if err != nil {
		return nil, err
	}

	count := int(hdr.edgeCount)
	s := &EdgesSegment{f: f, m: m, count: count}
	off := headerSize
	s.srcOff = off
	off += count * 16
	s.dstOff = off
	off += count * 16
	s.typeOff = off
	off += count * 4
	s.metadataOff = off
	off += count * 4
	s.deletedOff = off
	off += count

	if off > len(m) {
		s.Close()
		return nil, fmt.Errorf("%w: edges segment truncated (%d columns bytes, %d mapped)", ErrInvalidFormat, off, len(m))
	}
	s.st = loadSegmentStrings(m, hdr)
	return s, nil
}

// Close unmaps the segment and closes the underlying file.
func (s *EdgesSegment) Close() error {
	var err error
	if s.m != nil {
		err = s.m.Unmap()
		s.m = nil
	}
	if s.f != nil {
		if cerr := s.f.Close(); err == nil {
			err = cerr
		}
		s.f = nil
	}
	return err
}

// Count returns the number of edge rows, tombstoned rows included.
func (s *EdgesSegment) Count() int { return s.count }

// Src returns the source id of edge i.
func (s *EdgesSegment) Src(i int) (U128, bool) {
	if i < 0 || i >= s.count {
		return U128{}, false
	}
	return readU128(s.m, s.srcOff+i*16), true
}

// Dst returns the destination id of edge i.
func (s *EdgesSegment) Dst(i int) (U128, bool) {
	if i < 0 || i >= s.count {
		return U128{}, false
	}
	return readU128(s.m, s.dstOff+i*16), true
}

// TypeOffset returns the raw string-table offset of the edge type.
func (s *EdgesSegment) TypeOffset(i int) (uint32, bool) {
	if i < 0 || i >= s.count {
		return 0, false
	}
	return readU32(s.m, s.typeOff+i*4), true
}

// EdgeType resolves the edge type string; 0 means untyped.
func (s *EdgesSegment) EdgeType(i int) (string, bool) {
	off, ok := s.TypeOffset(i)
	if !ok || off == 0 || s.st == nil {
		return "", false
	}
	return s.st.Get(off)
}

// Metadata resolves the edge metadata JSON document (0 = absent).
func (s *EdgesSegment) Metadata(i int) (string, bool) {
	if i < 0 || i >= s.count || s.st == nil {
		return "", false
	}
	off := readU32(s.m, s.metadataOff+i*4)
	if off == 0 {
		return "", false
	}
	return s.st.Get(off)
}

// Deleted reports whether the edge is tombstoned.
func (s *EdgesSegment) Deleted(i int) bool {
	if i < 0 || i >= s.count {
		return false
	}
	return s.m[s.deletedOff+i] != 0
}

// Record materializes the full edge record at index i.
func (s *EdgesSegment) Record(i int) (EdgeRecord, bool) {
	src, ok := s.Src(i)
	if !ok {
		return EdgeRecord{}, false
	}
	dst, _ := s.Dst(i)
	rec := EdgeRecord{Src: src, Dst: dst, Version: "main", Deleted: s.Deleted(i)}
	if t, ok := s.EdgeType(i); ok {
		rec.Type = t
	}
	if m, ok := s.Metadata(i); ok {
		rec.Metadata = m
	}
	return rec, true
}

// FindOutgoing returns the indices of all live edges with the given source.
func (s *EdgesSegment) FindOutgoing(src U128) []int {
	var out []int
	for i := 0; i < s.count; i++ {
		if s.Deleted(i) {
			continue
		}
		if readU128(s.m, s.srcOff+i*16) == src {
			out = append(out, i)
		}
	}
	return out
}
