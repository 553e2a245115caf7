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

// Package server implements the Unix-domain socket front end of RFDB: a
// length-prefixed MessagePack request/response protocol that adapts the
// graph engine API onto the wire.
package server

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"

	"github.com/kraklabs/rfdb/pkg/datalog"
	"github.com/kraklabs/rfdb/pkg/graph"
	"github.com/kraklabs/rfdb/pkg/storage"
)

// MaxFrameSize bounds a single request or response payload (100 MiB).
const MaxFrameSize = 100 << 20

// msgpackHandle configures the shared codec: raw bytes decode as strings
// so map keys and id strings round-trip cleanly.
func msgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.RawToString = true
	h.WriteExt = true
	return h
}

// ReadFrame reads one length-prefixed frame: a 4-byte big-endian length
// followed by that many payload bytes.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(lenBuf[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds %d byte limit", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d byte limit", len(payload), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// DecodeRequest unmarshals a request frame.
func DecodeRequest(payload []byte) (Request, error) {
	var req Request
	dec := codec.NewDecoderBytes(payload, msgpackHandle())
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// EncodeResponse marshals a response frame.
func EncodeResponse(resp Response) ([]byte, error) {
	var payload []byte
	enc := codec.NewEncoderBytes(&payload, msgpackHandle())
	if err := enc.Encode(resp); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return payload, nil
}

// EncodeRequest marshals a request frame (client side).
func EncodeRequest(req Request) ([]byte, error) {
	var payload []byte
	enc := codec.NewEncoderBytes(&payload, msgpackHandle())
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return payload, nil
}

// DecodeResponse unmarshals a response frame (client side).
func DecodeResponse(payload []byte) (Response, error) {
	var resp Response
	dec := codec.NewDecoderBytes(payload, msgpackHandle())
	if err := dec.Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}

// Request is the tagged command envelope. Cmd names the operation; the
// remaining fields are read per command.
type Request struct {
	Cmd string `codec:"cmd"`

	Nodes []WireNode `codec:"nodes,omitempty"`
	Edges []WireEdge `codec:"edges,omitempty"`

	ID       string `codec:"id,omitempty"`
	Src      string `codec:"src,omitempty"`
	Dst      string `codec:"dst,omitempty"`
	EdgeType string `codec:"edge_type,omitempty"`

	EdgeTypes []string `codec:"edge_types,omitempty"`
	Start     []string `codec:"start,omitempty"`
	MaxDepth  int      `codec:"max_depth,omitempty"`
	Backward  bool     `codec:"backward,omitempty"`

	Query          *WireAttrQuery `codec:"query,omitempty"`
	NodeType       string         `codec:"node_type,omitempty"`
	Types          []string       `codec:"types,omitempty"`
	SkipValidation bool           `codec:"skip_validation,omitempty"`

	Source  string `codec:"source,omitempty"`
	Explain bool   `codec:"explain,omitempty"`

	Version string `codec:"version,omitempty"`
	Name    string `codec:"name,omitempty"`
	Scope   string `codec:"scope,omitempty"`
	Path    string `codec:"path,omitempty"`
	Value   string `codec:"value,omitempty"`
}

// Response is the untagged result union, discriminated by field presence.
type Response struct {
	OK         *bool               `codec:"ok,omitempty"`
	Error      string              `codec:"error,omitempty"`
	Node       *WireNode           `codec:"node,omitempty"`
	Nodes      []WireNode          `codec:"nodes,omitempty"`
	Edges      []WireEdge          `codec:"edges,omitempty"`
	IDs        []string            `codec:"ids,omitempty"`
	Value      *string             `codec:"value,omitempty"`
	Count      *int                `codec:"count,omitempty"`
	Counts     map[string]int      `codec:"counts,omitempty"`
	Pong       *bool               `codec:"pong,omitempty"`
	Violations []string            `codec:"violations,omitempty"`
	Identifier *string             `codec:"identifier,omitempty"`
	Results    *WireDatalogResults `codec:"results,omitempty"`
}

// WireDatalogResults carries datalog bindings and the optional profile.
type WireDatalogResults struct {
	Bindings []map[string]string   `codec:"bindings"`
	Stats    *datalog.QueryStats   `codec:"stats,omitempty"`
	Profile  *datalog.QueryProfile `codec:"profile,omitempty"`
	Steps    []datalog.ExplainStep `codec:"explain_steps,omitempty"`
}

// WireNode is a node record with string-encoded ids.
type WireNode struct {
	ID       string `codec:"id"`
	Type     string `codec:"type,omitempty"`
	Version  string `codec:"version,omitempty"`
	Exported bool   `codec:"exported,omitempty"`
	Replaces string `codec:"replaces,omitempty"`
	Name     string `codec:"name,omitempty"`
	File     string `codec:"file,omitempty"`
	Metadata string `codec:"metadata,omitempty"`
}

// WireEdge is an edge record with string-encoded ids.
type WireEdge struct {
	Src      string `codec:"src"`
	Dst      string `codec:"dst"`
	Type     string `codec:"type,omitempty"`
	Version  string `codec:"version,omitempty"`
	Metadata string `codec:"metadata,omitempty"`
}

// WireAttrQuery mirrors storage.AttrQuery with optional fields.
type WireAttrQuery struct {
	Version  *string `codec:"version,omitempty"`
	NodeType *string `codec:"node_type,omitempty"`
	FileID   *uint32 `codec:"file_id,omitempty"`
	File     *string `codec:"file,omitempty"`
	Exported *bool   `codec:"exported,omitempty"`
	Name     *string `codec:"name,omitempty"`
}

// ParseWireID resolves a wire id string: decimal digits parse as a u128,
// any other string hashes through StringID.
func ParseWireID(s string) storage.U128 {
	if id, err := storage.ParseU128(s); err == nil {
		return id
	}
	return graph.StringID(s)
}

func (n WireNode) toRecord() storage.NodeRecord {
	rec := storage.NodeRecord{
		ID:       ParseWireID(n.ID),
		Type:     n.Type,
		Version:  n.Version,
		Exported: n.Exported,
		Name:     n.Name,
		File:     n.File,
		Metadata: n.Metadata,
	}
	if rec.Version == "" {
		rec.Version = "main"
	}
	if n.Replaces != "" {
		id := ParseWireID(n.Replaces)
		rec.Replaces = &id
	}
	return rec
}

func nodeToWire(rec storage.NodeRecord) WireNode {
	n := WireNode{
		ID:       rec.ID.String(),
		Type:     rec.Type,
		Version:  rec.Version,
		Exported: rec.Exported,
		Name:     rec.Name,
		File:     rec.File,
		Metadata: rec.Metadata,
	}
	if rec.Replaces != nil {
		n.Replaces = rec.Replaces.String()
	}
	return n
}

func (e WireEdge) toRecord() storage.EdgeRecord {
	rec := storage.EdgeRecord{
		Src:      ParseWireID(e.Src),
		Dst:      ParseWireID(e.Dst),
		Type:     e.Type,
		Version:  e.Version,
		Metadata: e.Metadata,
	}
	if rec.Version == "" {
		rec.Version = "main"
	}
	return rec
}

func edgeToWire(rec storage.EdgeRecord) WireEdge {
	return WireEdge{
		Src:      rec.Src.String(),
		Dst:      rec.Dst.String(),
		Type:     rec.Type,
		Version:  rec.Version,
		Metadata: rec.Metadata,
	}
}

func (q *WireAttrQuery) toQuery() *storage.AttrQuery {
	if q == nil {
		return &storage.AttrQuery{}
	}
	return &storage.AttrQuery{
		Version:  q.Version,
		Type:     q.NodeType,
		FileID:   q.FileID,
		File:     q.File,
		Exported: q.Exported,
		Name:     q.Name,
	}
}

func idsToWire(ids []storage.U128) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseWireIDs(ids []string) []storage.U128 {
	out := make([]storage.U128, len(ids))
	for i, s := range ids {
		out[i] = ParseWireID(s)
	}
	return out
}
