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

package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/kraklabs/rfdb/pkg/datalog"
	"github.com/kraklabs/rfdb/pkg/graph"
	"github.com/kraklabs/rfdb/pkg/storage"
)

// Server serves the MessagePack protocol over a Unix stream socket.
//
// Concurrency: the engine requires external synchronization, so the server
// wraps it in a single reader/writer lock. Read commands take the shared
// lock, mutating commands the exclusive lock; a flush therefore acts as a
// total barrier over every accepted write.
type Server struct {
	engine *graph.Engine
	log    *slog.Logger

	mu     sync.RWMutex
	ln     net.Listener
	closed bool
	done   chan struct{}
}

// New creates a server around an opened engine. A nil logger defaults to
// slog's text handler on stderr.
func New(engine *graph.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Server{
		engine: engine,
		log:    logger,
		done:   make(chan struct{}),
	}
}

// Done is closed once the server has fully shut down.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// ListenAndServe binds the Unix socket and serves until Shutdown. A stale
// socket file from a previous run is removed before binding.
func (s *Server) ListenAndServe(socketPath string) error {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("bind socket: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown closes it.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return errors.New("server is shut down")
	}
	s.ln = ln
	s.mu.Unlock()

	s.log.Info("server.listen", "addr", ln.Addr().String())

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			wg.Wait()
			close(s.done)
			if closed {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Shutdown flushes the engine and stops the listener. Safe to call more
// than once.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	if err := s.engine.Flush(); err != nil {
		s.log.Error("shutdown.flush", "err", err)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	s.log.Info("server.shutdown")
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connectionsActive.Inc()
	defer connectionsActive.Dec()

	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.log.Debug("conn.read", "err", err)
			}
			return
		}

		req, err := DecodeRequest(payload)
		var resp Response
		if err != nil {
			resp = errorResponse(err)
		} else {
			start := time.Now()
			resp = s.handle(req)
			requestDuration.WithLabelValues(req.Cmd).Observe(time.Since(start).Seconds())
			status := "ok"
			if resp.Error != "" {
				status = "error"
			}
			requestsTotal.WithLabelValues(req.Cmd, status).Inc()
		}

		out, err := EncodeResponse(resp)
		if err != nil {
			s.log.Error("conn.encode", "err", err)
			return
		}
		if err := WriteFrame(conn, out); err != nil {
			s.log.Debug("conn.write", "err", err)
			return
		}

		if req.Cmd == "shutdown" {
			// Reply first, then stop accepting. The flush inside Shutdown
			// makes every accepted write durable before exit.
			go s.Shutdown()
			return
		}
	}
}

func boolPtr(b bool) *bool { return &b }

func intPtr(i int) *int { return &i }

func strPtr(s string) *string { return &s }

func okResponse() Response { return Response{OK: boolPtr(true)} }

func errorResponse(err error) Response {
	return Response{Error: err.Error()}
}

// handle dispatches one request under the appropriate lock.
func (s *Server) handle(req Request) Response {
	switch req.Cmd {
	case "ping":
		return Response{Pong: boolPtr(true)}

	// Mutating commands: exclusive lock.
	case "add_nodes", "add_edges", "delete_node", "delete_edge",
		"update_node_version", "promote_local_to_main", "delete_version",
		"flush", "compact", "clear":
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.handleWrite(req)

	case "shutdown":
		return okResponse()

	default:
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.handleRead(req)
	}
}

func (s *Server) handleWrite(req Request) Response {
	switch req.Cmd {
	case "add_nodes":
		nodes := make([]storage.NodeRecord, len(req.Nodes))
		for i, n := range req.Nodes {
			nodes[i] = n.toRecord()
		}
		s.engine.AddNodes(nodes)
		return okResponse()

	case "add_edges":
		edges := make([]storage.EdgeRecord, len(req.Edges))
		for i, e := range req.Edges {
			edges[i] = e.toRecord()
		}
		s.engine.AddEdges(edges, req.SkipValidation)
		return okResponse()

	case "delete_node":
		s.engine.DeleteNode(ParseWireID(req.ID))
		return okResponse()

	case "delete_edge":
		s.engine.DeleteEdge(ParseWireID(req.Src), ParseWireID(req.Dst), req.EdgeType)
		return okResponse()

	case "update_node_version":
		s.engine.UpdateNodeVersion(ParseWireID(req.ID), req.Version)
		return okResponse()

	case "promote_local_to_main":
		s.engine.PromoteLocalToMain()
		return okResponse()

	case "delete_version":
		s.engine.DeleteVersion(req.Version)
		return okResponse()

	case "flush":
		if err := s.engine.Flush(); err != nil {
			return errorResponse(err)
		}
		return okResponse()

	case "compact":
		if err := s.engine.Compact(); err != nil {
			return errorResponse(err)
		}
		return okResponse()

	case "clear":
		s.engine.Clear()
		return okResponse()

	default:
		return errorResponse(fmt.Errorf("unknown command %q", req.Cmd))
	}
}

func (s *Server) handleRead(req Request) Response {
	switch req.Cmd {
	case "get_node":
		node, ok := s.engine.GetNode(ParseWireID(req.ID))
		if !ok {
			return Response{OK: boolPtr(false)}
		}
		wire := nodeToWire(node)
		return Response{Node: &wire}

	case "node_exists":
		return Response{OK: boolPtr(s.engine.NodeExists(ParseWireID(req.ID)))}

	case "get_node_identifier":
		ident, ok := s.engine.NodeIdentifier(ParseWireID(req.ID))
		if !ok {
			return Response{OK: boolPtr(false)}
		}
		return Response{Identifier: strPtr(ident)}

	case "find_by_attr":
		ids := s.engine.FindByAttr(req.Query.toQuery())
		return Response{IDs: idsToWire(ids)}

	case "find_by_type":
		ids := s.engine.FindByType(req.NodeType)
		return Response{IDs: idsToWire(ids)}

	case "neighbors":
		ids := s.engine.Neighbors(ParseWireID(req.ID), req.EdgeTypes)
		return Response{IDs: idsToWire(ids)}

	case "reverse_neighbors":
		ids := s.engine.ReverseNeighbors(ParseWireID(req.ID), req.EdgeTypes)
		return Response{IDs: idsToWire(ids)}

	case "bfs":
		ids := s.engine.BFS(parseWireIDs(req.Start), req.MaxDepth, req.EdgeTypes)
		return Response{IDs: idsToWire(ids)}

	case "dfs":
		ids := s.engine.DFS(parseWireIDs(req.Start), req.MaxDepth, req.EdgeTypes)
		return Response{IDs: idsToWire(ids)}

	case "reachability":
		ids := s.engine.Reachability(parseWireIDs(req.Start), req.MaxDepth, req.EdgeTypes, req.Backward)
		return Response{IDs: idsToWire(ids)}

	case "get_outgoing_edges":
		edges := s.engine.OutgoingEdges(ParseWireID(req.ID), req.EdgeTypes)
		return Response{Edges: edgesToWire(edges)}

	case "get_incoming_edges":
		edges := s.engine.IncomingEdges(ParseWireID(req.ID), req.EdgeTypes)
		return Response{Edges: edgesToWire(edges)}

	case "get_all_edges":
		return Response{Edges: edgesToWire(s.engine.AllEdges())}

	case "is_endpoint":
		return Response{OK: boolPtr(s.engine.IsEndpoint(ParseWireID(req.ID)))}

	case "node_count":
		return Response{Count: intPtr(s.engine.NodeCount())}

	case "edge_count":
		return Response{Count: intPtr(s.engine.EdgeCount())}

	case "count_nodes_by_type":
		return Response{Counts: s.engine.CountNodesByType(req.Types)}

	case "count_edges_by_type":
		return Response{Counts: s.engine.CountEdgesByType(req.Types)}

	case "get_nodes_by_version":
		return Response{IDs: idsToWire(s.engine.NodesByVersion(req.Version))}

	case "compute_id":
		id := graph.ComputeNodeID(req.NodeType, req.Name, req.Scope, req.Path)
		return Response{Value: strPtr(id.String())}

	case "string_id":
		return Response{Value: strPtr(graph.StringID(req.Value).String())}

	case "datalog_query":
		return s.handleDatalogQuery(req)

	case "check_guarantee":
		return s.handleCheckGuarantee(req)

	default:
		return errorResponse(fmt.Errorf("unknown command %q", req.Cmd))
	}
}

func edgesToWire(edges []storage.EdgeRecord) []WireEdge {
	out := make([]WireEdge, len(edges))
	for i, e := range edges {
		out[i] = edgeToWire(e)
	}
	return out
}

// handleDatalogQuery loads a program and evaluates every rule head as a
// goal, returning the union of bindings. Explain mode switches to the
// profiling evaluator.
func (s *Server) handleDatalogQuery(req Request) Response {
	program, err := datalog.ParseProgram(req.Source)
	if err != nil {
		return errorResponse(err)
	}

	if req.Explain {
		ev := datalog.NewExplainEvaluator(s.engine, true)
		if err := ev.LoadRules(program); err != nil {
			return errorResponse(err)
		}
		results := &WireDatalogResults{}
		for pred := range program.DefinedPredicates() {
			r := ev.Query(goalFor(program, pred))
			results.Bindings = append(results.Bindings, r.Bindings...)
			results.Stats = &r.Stats
			results.Profile = &r.Profile
			results.Steps = append(results.Steps, r.ExplainSteps...)
		}
		return Response{Results: results}
	}

	ev := datalog.NewEvaluator(s.engine)
	if err := ev.LoadRules(program); err != nil {
		return errorResponse(err)
	}
	results := &WireDatalogResults{}
	for pred := range program.DefinedPredicates() {
		for _, b := range ev.Query(goalFor(program, pred)) {
			m := make(map[string]string, len(b))
			for k, v := range b {
				m[k] = v.String()
			}
			results.Bindings = append(results.Bindings, m)
		}
	}
	return Response{Results: results}
}

// goalFor builds a most-general goal atom for a defined predicate: one
// fresh variable per head argument position.
func goalFor(program datalog.Program, predicate string) datalog.Atom {
	rules := program.RulesFor(predicate)
	arity := 0
	if len(rules) > 0 {
		arity = rules[0].Head.Arity()
	}
	args := make([]datalog.Term, arity)
	for i := range args {
		args[i] = datalog.Var(fmt.Sprintf("V%d", i))
	}
	return datalog.Atom{Predicate: predicate, Args: args}
}

// handleCheckGuarantee evaluates violation(X) over the supplied program
// and reports the violating ids.
func (s *Server) handleCheckGuarantee(req Request) Response {
	bindings, err := datalog.EvaluateGuarantee(s.engine, req.Source)
	if err != nil {
		return errorResponse(err)
	}
	violations := make([]string, 0, len(bindings))
	for _, b := range bindings {
		if v, ok := b["X"]; ok {
			violations = append(violations, v.String())
		}
	}
	return Response{Violations: violations}
}
