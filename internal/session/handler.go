package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/agorai/agorai/internal/auth"
	"github.com/agorai/agorai/internal/bridgeerr"
	"github.com/agorai/agorai/internal/eventbus"
	"github.com/agorai/agorai/internal/store"
	"github.com/agorai/agorai/internal/timeoutcfg"
	"github.com/agorai/agorai/internal/tools"
)

// SessionIDHeader is the header both directions use to carry the
// session id, per the wire contract.
const SessionIDHeader = "mcp-session-id"

// Handler serves POST/GET/DELETE /mcp.
type Handler struct {
	manager   *Manager
	store     *store.Store
	bus       *eventbus.Bus
	auth      *auth.Provider
	dispatch  *tools.Dispatcher
	timeouts  *timeoutcfg.Config
	version   string
}

// NewHandler wires the session layer over its collaborators.
func NewHandler(manager *Manager, st *store.Store, bus *eventbus.Bus, authProvider *auth.Provider, dispatch *tools.Dispatcher, timeouts *timeoutcfg.Config, version string) *Handler {
	return &Handler{manager: manager, store: st, bus: bus, auth: authProvider, dispatch: dispatch, timeouts: timeouts, version: version}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, newError(nil, codeParseError, "invalid JSON-RPC envelope"))
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	var sess *Session

	if sessionID == "" {
		if req.Method != "initialize" {
			writeJSON(w, http.StatusBadRequest, newError(req.ID, codeInvalidRequest, "initialize must be the first request"))
			return
		}
		token := auth.TokenFromHeader(r.Header.Get("Authorization"))
		result, err := h.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeAuthError(w, err)
			return
		}
		sess = h.manager.Create(result.AgentID, result.Name, result.Clearance)
	} else {
		s, ok := h.manager.Get(sessionID)
		if !ok {
			writeSessionNotFound(w)
			return
		}
		sess = s
		if !sess.Initialized() && req.Method != "initialize" && req.Method != "notifications/initialized" {
			writeJSON(w, http.StatusBadRequest, newError(req.ID, codeInvalidRequest, "session is not initialized"))
			return
		}
	}

	resp, status := h.dispatchMethod(r.Context(), sess, req)
	w.Header().Set(SessionIDHeader, sess.ID)

	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if acceptsSSE(r) {
		writeSSEResponse(w, status, resp)
		return
	}
	writeJSON(w, status, resp)
}

func (h *Handler) dispatchMethod(ctx context.Context, sess *Session, req Request) (Response, int) {
	switch req.Method {
	case "initialize":
		sess.MarkInitialized()
		return newResult(req.ID, InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: "agorai", Version: h.version},
			Capabilities:    Capabilities{Tools: map[string]any{}},
		}), http.StatusOK
	case "notifications/initialized":
		return Response{}, http.StatusAccepted
	case "tools/list":
		return newResult(req.ID, map[string]any{"tools": tools.Names()}), http.StatusOK
	case "tools/call":
		return h.dispatchToolCall(ctx, sess, req)
	default:
		return newError(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method)), http.StatusOK
	}
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (h *Handler) dispatchToolCall(ctx context.Context, sess *Session, req Request) (Response, int) {
	var params toolCallParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, codeInvalidParams, "invalid tools/call params"), http.StatusOK
		}
	}
	caller := tools.Caller{AgentID: sess.AgentID, Name: sess.AgentName, Clearance: sess.Clearance}
	result, err := h.dispatch.Call(ctx, caller, params.Name, params.Arguments)
	if err != nil {
		return toolErrorResponse(req.ID, err), http.StatusOK
	}
	return newResult(req.ID, result), http.StatusOK
}

func toolErrorResponse(id json.RawMessage, err error) Response {
	kind, ok := bridgeerr.KindOf(err)
	if !ok {
		return newError(id, codeInternalError, err.Error())
	}
	switch kind {
	case bridgeerr.KindValidation:
		return newError(id, codeInvalidParams, err.Error())
	case bridgeerr.KindNotFound:
		return newError(id, codeApplicationErr, err.Error())
	default:
		return newError(id, codeApplicationErr, err.Error())
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		writeSessionNotFound(w)
		return
	}
	sess, ok := h.manager.Get(sessionID)
	if !ok {
		writeSessionNotFound(w)
		return
	}

	subs, err := h.store.ListSubscriptionsByAgent(r.Context(), sess.AgentID)
	if err != nil {
		http.Error(w, "failed to load subscriptions", http.StatusInternalServerError)
		return
	}
	conversationIDs := make([]string, 0, len(subs))
	for _, s := range subs {
		conversationIDs = append(conversationIDs, s.ConversationID)
	}

	st := newStreamer(h.bus, conversationIDs)
	sess.attachStreamer(st)
	defer func() {
		st.stop()
		sess.detachStreamer(st)
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	keepAlive := time.NewTicker(h.timeouts.SSEReconnectTimeout())
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-st.stopCh:
			return
		case <-keepAlive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			if flusher != nil {
				flusher.Flush()
			}
		case msg, ok := <-st.out:
			if !ok {
				return
			}
			if !visibleTo(sess, msg) {
				continue
			}
			n := newNotification("message:created", msg)
			b, err := json.Marshal(n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", b)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func visibleTo(sess *Session, msg store.Message) bool {
	return sess.Clearance >= msg.Visibility || msg.FromAgent == sess.AgentID
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID != "" {
		h.manager.Close(sessionID)
	}
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSSEResponse(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(status)
	b, err := json.Marshal(body)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func acceptsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeSessionNotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Session not found"})
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
