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
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Metadata is the metadata.json sidecar written next to the segments. It is
// informational only: Open reads it back to carry its fields forward, and
// no segment data is derived from it.
type Metadata struct {
	Version   string `json:"version"`
	NodeCount uint64 `json:"node_count"`
	EdgeCount uint64 `json:"edge_count"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// NewMetadata returns a fresh sidecar stamped with the current time.
func NewMetadata() Metadata {
	now := time.Now().Unix()
	return Metadata{Version: "1.0", CreatedAt: now, UpdatedAt: now}
}

// SegmentWriter serializes a consolidated snapshot into a database
// directory. Each segment is written to a temporary file and renamed into
// place, so a crash mid-write never leaves a partially written segment
// file; readers holding an open mapping of the old inode are unaffected.
// nodes.bin and edges.bin are renamed one after the other, so a crash
// between the two renames leaves files from different snapshots.
type SegmentWriter struct {
	dir string
}

// NewSegmentWriter creates a writer targeting the database directory.
func NewSegmentWriter(dir string) *SegmentWriter {
	return &SegmentWriter{dir: dir}
}

// WriteNodes serializes the node list as nodes.bin. The input is the final
// consolidated set: tombstoned records must already be elided by the caller.
func (w *SegmentWriter) WriteNodes(nodes []NodeRecord) error {
	// Pass 1: intern every string and record assigned offsets per value.
	st := NewStringTable()
	typeMap := make(map[string]uint32)
	fileMap := make(map[string]uint32)
	nameMap := make(map[string]uint32)
	versionMap := make(map[string]uint32)
	metadataMap := make(map[string]uint32)
	for i := range nodes {
		n := &nodes[i]
		if n.Type != "" {
			internInto(st, typeMap, n.Type)
		}
		if n.File != "" {
			internInto(st, fileMap, n.File)
		}
		if n.Name != "" {
			internInto(st, nameMap, n.Name)
		}
		internInto(st, versionMap, n.Version)
		if n.Metadata != "" {
			internInto(st, metadataMap, n.Metadata)
		}
	}

	// Pass 2: populate the offset and flag columns. file_id and
	// name_offset store offset+1 so 0 can mean "absent"; the remaining
	// string columns store raw offsets (offset 0 is the table sentinel,
	// never a real value).
	count := len(nodes)
	typeOffsets := make([]uint32, count)
	fileIDs := make([]uint32, count)
	nameOffsets := make([]uint32, count)
	versionOffsets := make([]uint32, count)
	metadataOffsets := make([]uint32, count)
	exported := make([]byte, count)
	deleted := make([]byte, count)
	for i := range nodes {
		n := &nodes[i]
		if n.Type != "" {
			typeOffsets[i] = typeMap[n.Type]
		}
		if n.File != "" {
			fileIDs[i] = fileMap[n.File] + 1
		}
		if n.Name != "" {
			nameOffsets[i] = nameMap[n.Name] + 1
		}
		versionOffsets[i] = versionMap[n.Version]
		if n.Metadata != "" {
			metadataOffsets[i] = metadataMap[n.Metadata]
		}
		if n.Exported {
			exported[i] = 1
		}
		if n.Deleted {
			deleted[i] = 1
		}
	}

	return w.writeSegment("nodes.bin", segmentHeader{
		version:   FormatVersion,
		nodeCount: uint64(count),
	}, func(bw *bufio.Writer) error {
		var buf [16]byte
		for i := range nodes {
			nodes[i].ID.PutLE(buf[:])
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
		for _, col := range [][]uint32{typeOffsets, fileIDs, nameOffsets, versionOffsets} {
			if err := writeU32Column(bw, col); err != nil {
				return err
			}
		}
		if _, err := bw.Write(exported); err != nil {
			return err
		}
		if _, err := bw.Write(deleted); err != nil {
			return err
		}
		return writeU32Column(bw, metadataOffsets)
	}, st)
}

// WriteEdges serializes the edge list as edges.bin.
func (w *SegmentWriter) WriteEdges(edges []EdgeRecord) error {
	st := NewStringTable()
	typeMap := make(map[string]uint32)
	metadataMap := make(map[string]uint32)
	for i := range edges {
		e := &edges[i]
		if e.Type != "" {
			internInto(st, typeMap, e.Type)
		}
		if e.Metadata != "" {
			internInto(st, metadataMap, e.Metadata)
		}
	}

	count := len(edges)
	typeOffsets := make([]uint32, count)
	metadataOffsets := make([]uint32, count)
	deleted := make([]byte, count)
	for i := range edges {
		e := &edges[i]
		if e.Type != "" {
			typeOffsets[i] = typeMap[e.Type]
		}
		if e.Metadata != "" {
			metadataOffsets[i] = metadataMap[e.Metadata]
		}
		if e.Deleted {
			deleted[i] = 1
		}
	}

	return w.writeSegment("edges.bin", segmentHeader{
		version:   FormatVersion,
		edgeCount: uint64(count),
	}, func(bw *bufio.Writer) error {
		var buf [16]byte
		for i := range edges {
			edges[i].Src.PutLE(buf[:])
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
		for i := range edges {
			edges[i].Dst.PutLE(buf[:])
			if _, err := bw.Write(buf[:]); err != nil {
				return err
			}
		}
		if err := writeU32Column(bw, typeOffsets); err != nil {
			return err
		}
		if err := writeU32Column(bw, metadataOffsets); err != nil {
			return err
		}
		_, err := bw.Write(deleted)
		return err
	}, st)
}

// writeSegment writes header, columns, and string table into <name>.tmp,
// patches the header with the final string-table offset, and renames the
// file into place.
func (w *SegmentWriter) writeSegment(name string, hdr segmentHeader, columns func(*bufio.Writer) error, st *StringTable) error {
	tmpPath := filepath.Join(w.dir, name+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", name, err)
	}
	defer os.Remove(tmpPath)

	bw := bufio.NewWriter(f)

	// Placeholder header; rewritten once the string-table offset is known.
	var hdrBuf [headerSize]byte
	hdr.encode(hdrBuf[:])
	if _, err := bw.Write(hdrBuf[:]); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	if err := columns(bw); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	// The string-table offset is the flush position after all columns.
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	stOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	if _, err := st.WriteTo(bw); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", name, err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", name, err)
	}

	hdr.stringTableOffset = uint64(stOffset)
	hdr.encode(hdrBuf[:])
	if _, err := f.WriteAt(hdrBuf[:], 0); err != nil {
		f.Close()
		return fmt.Errorf("rewrite header %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync segment %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close segment %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(w.dir, name)); err != nil {
		return fmt.Errorf("rename segment %s: %w", name, err)
	}
	return nil
}

// WriteMetadata writes the metadata.json sidecar.
func (w *SegmentWriter) WriteMetadata(meta Metadata) error {
	path := filepath.Join(w.dir, "metadata.json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		f.Close()
		return fmt.Errorf("encode metadata: %w", err)
	}
	return f.Close()
}

func internInto(st *StringTable, m map[string]uint32, s string) {
	if _, ok := m[s]; !ok {
		m[s] = st.Intern(s)
	}
}

func writeU32Column(bw *bufio.Writer, col []uint32) error {
	var buf [4]byte
	for _, v := range col {
		binary.LittleEndian.PutUint32(buf[:], v)
		if _, err := bw.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}
