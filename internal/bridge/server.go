// ABOUTME: Streamable HTTP JSON-RPC endpoint for bridge agents with session management
// ABOUTME: POST carries JSON-RPC, GET opens the SSE push stream, DELETE ends the session

package bridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agorai/bridge/internal/auth"
	"github.com/agorai/bridge/internal/bus"
	"github.com/agorai/bridge/internal/dedupe"
	"github.com/agorai/bridge/internal/store"
	"github.com/agorai/bridge/internal/tools"
)

// ProtocolVersion is the Streamable HTTP protocol revision the bridge speaks.
const ProtocolVersion = "2025-03-26"

// MaxRequestBodySize caps POST bodies at 1MB.
const MaxRequestBodySize = 1 << 20

// ServerName and ServerVersion identify the bridge in initialize responses.
const (
	ServerName    = "agorai-bridge"
	ServerVersion = "1.0.0"
)

// JSON-RPC 2.0 message types.

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call. Tool failures travel as
// isError content, not as JSON-RPC errors, so callers can read them.
type CallToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is a single piece of tool result content.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// session binds a transport session to an authenticated agent identity.
type session struct {
	id        string
	identity  *auth.Identity
	keyHash   string
	createdAt time.Time
}

type sessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (s *sessionStore) create(identity *auth.Identity, keyHash string) *session {
	sess := &session{
		id:        uuid.New().String(),
		identity:  identity,
		keyHash:   keyHash,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *sessionStore) get(id string) (*session, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	return sess, ok
}

func (s *sessionStore) delete(id string) bool {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	return existed
}

// Config holds the server's collaborators.
type Config struct {
	Store    store.Store
	Bus      *bus.Broadcaster
	Auth     *auth.Provider
	Registry *tools.Registry
	Logger   *slog.Logger

	// KeepAliveInterval spaces SSE keep-alive comments. Zero means 30s.
	KeepAliveInterval time.Duration
}

// Server is the bridge's HTTP front end.
type Server struct {
	store     store.Store
	bus       *bus.Broadcaster
	auth      *auth.Provider
	registry  *tools.Registry
	logger    *slog.Logger
	sessions  *sessionStore
	dedupe    *dedupe.Cache
	keepAlive time.Duration
}

// NewServer wires the server from its config.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("event bus is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("auth provider is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keepAlive := cfg.KeepAliveInterval
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	return &Server{
		store:     cfg.Store,
		bus:       cfg.Bus,
		auth:      cfg.Auth,
		registry:  cfg.Registry,
		logger:    logger.With("component", "bridge"),
		sessions:  newSessionStore(),
		dedupe:    dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize),
		keepAlive: keepAlive,
	}, nil
}

// Close releases server resources. In-flight SSE streams end when their
// request contexts are cancelled by the HTTP server shutdown.
func (s *Server) Close() {
	s.dedupe.Close()
}

// RegisterRoutes registers the bridge endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"ok":      true,
		"name":    ServerName,
		"version": ServerVersion,
	})
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		s.handleStream(w, r)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, GET, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete ends a session. The caller must present the same key the
// session was initialized with.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}

	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	if sess.keyHash != s.auth.HashFor(bearerToken(r)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	s.sessions.delete(sessionID)
	s.logger.Info("session terminated", "session_id", sessionID, "agent_id", sess.identity.AgentID)
	w.WriteHeader(http.StatusNoContent)
}

// handlePost processes one JSON-RPC message.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, r, nil, CodeParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, r, nil, CodeInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, r, nil, CodeParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		s.sendError(w, r, req.ID, CodeInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Notifications are acknowledged and dropped.
	if isNotification {
		if !strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Warn("notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.Method == "initialize" {
		s.handleInitialize(w, r, req)
		return
	}

	// Every other request needs a live session.
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		// Client must re-initialize.
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	s.logger.Debug("request", "method", req.Method, "session_id", sessionID)

	switch req.Method {
	case "ping":
		s.sendResult(w, r, req.ID, map[string]any{})
	case "tools/list":
		s.handleToolsList(w, r, req)
	case "tools/call":
		s.handleToolsCall(w, r, req, sess)
	default:
		s.sendError(w, r, req.ID, CodeMethodNotFound, "method not found", nil)
	}
}

// handleInitialize authenticates the caller and creates a session.
func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	token := bearerToken(r)
	identity, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		s.sendError(w, r, req.ID, CodeInvalidRequest, err.Error(), nil)
		return
	}

	sess := s.sessions.create(identity, s.auth.HashFor(token))
	s.logger.Info("session created",
		"session_id", sess.id,
		"agent_id", identity.AgentID,
		"agent_name", identity.Name,
	)

	w.Header().Set("Mcp-Session-Id", sess.id)
	s.sendResult(w, r, req.ID, map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
		},
	})
}

func (s *Server) handleToolsList(w http.ResponseWriter, r *http.Request, req JSONRPCRequest) {
	s.sendResult(w, r, req.ID, map[string]any{
		"tools": s.registry.Definitions(),
	})
}

func (s *Server) handleToolsCall(w http.ResponseWriter, r *http.Request, req JSONRPCRequest, sess *session) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendError(w, r, req.ID, CodeInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		s.sendError(w, r, req.ID, CodeInvalidParams, "tool name is required", nil)
		return
	}

	// A retried POST with the same id must not run the tool twice.
	dedupeKey := sess.id + ":" + string(req.ID)
	if s.dedupe.CheckAndMark(dedupeKey) {
		s.sendError(w, r, req.ID, CodeInvalidRequest, "duplicate request id", nil)
		return
	}

	out, err := s.registry.Call(r.Context(), sess.identity, params.Name, params.Arguments)
	if err != nil {
		s.handleToolError(w, r, req.ID, params.Name, err)
		return
	}

	s.sendResult(w, r, req.ID, CallToolResult{
		Content: []ContentBlock{{Type: "text", Text: string(out)}},
	})
}

// handleToolError maps tool failures onto the wire. Protocol-shaped
// failures become JSON-RPC errors; domain failures become isError results
// the calling agent can read and react to.
func (s *Server) handleToolError(w http.ResponseWriter, r *http.Request, id json.RawMessage, toolName string, err error) {
	var vErr *tools.ValidationError
	switch {
	case errors.Is(err, tools.ErrToolNotFound):
		s.sendError(w, r, id, CodeInvalidParams, "tool not found", nil)
	case errors.As(err, &vErr):
		s.sendError(w, r, id, CodeInvalidParams, vErr.Error(), nil)
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrNotSubscribed),
		errors.Is(err, store.ErrEmptyContent),
		errors.Is(err, store.ErrContentTooLarge):
		s.sendResult(w, r, id, CallToolResult{
			Content: []ContentBlock{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
	default:
		s.logger.Warn("tool execution failed", "tool", toolName, "error", err)
		s.sendError(w, r, id, CodeInternalError, "tool execution failed", nil)
	}
}

// handleStream opens the SSE push stream for a session. Each visible
// message arrives as a notifications/message JSON-RPC notification in a
// data: frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Bad Request: missing Mcp-Session-Id", http.StatusBadRequest)
		return
	}
	sess, ok := s.sessions.get(sessionID)
	if !ok {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": stream open\n\n")
	flusher.Flush()

	events, subID := s.bus.SubscribeAll(r.Context())
	defer s.bus.UnsubscribeAll(subID)

	s.logger.Debug("stream opened", "session_id", sessionID, "agent_id", sess.identity.AgentID)

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case msg, ok := <-events:
			if !ok {
				return
			}
			if !s.deliverable(r, sess, msg) {
				continue
			}
			frame, err := notificationFrame(msg)
			if err != nil {
				s.logger.Warn("encoding push notification", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

// deliverable decides whether a message reaches this session's stream:
// the agent must be subscribed to the conversation, the message must sit
// at or below its clearance, and agents never get their own messages
// pushed back.
func (s *Server) deliverable(r *http.Request, sess *session, msg *store.Message) bool {
	if msg.FromAgent == sess.identity.AgentID {
		return false
	}
	subscribed, err := s.store.IsSubscribed(r.Context(), msg.ConversationID, sess.identity.AgentID)
	if err != nil || !subscribed {
		return false
	}
	return sess.identity.Clearance.AtLeast(msg.Visibility)
}

// pushPayload is the params object of a notifications/message frame.
type pushPayload struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	FromAgent      string            `json:"from_agent"`
	Content        string            `json:"content"`
	Type           string            `json:"type"`
	Visibility     string            `json:"visibility"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      string            `json:"created_at"`
}

func notificationFrame(msg *store.Message) ([]byte, error) {
	return json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "notifications/message",
		"params": pushPayload{
			ID:             msg.ID,
			ConversationID: msg.ConversationID,
			FromAgent:      msg.FromAgent,
			Content:        msg.Content,
			Type:           msg.Type,
			Visibility:     string(msg.Visibility),
			Metadata:       msg.Metadata,
			CreatedAt:      msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

// wantsSSE reports whether the client asked for an SSE-framed response.
func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

func (s *Server) sendResult(w http.ResponseWriter, r *http.Request, id json.RawMessage, result any) {
	s.writeResponse(w, r, JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, id json.RawMessage, code int, message string, data any) {
	s.writeResponse(w, r, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
	})
}

// writeResponse emits the response either as plain JSON or, when the
// client accepts text/event-stream, as a single SSE data frame.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp JSONRPCResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
		return
	}

	if wantsSSE(r) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(append(payload, '\n'))
}
