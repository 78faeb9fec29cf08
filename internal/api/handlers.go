package api

import (
	"encoding/json"
	"net/http"
	"time"

	"clipsync/internal/collab"
	"clipsync/internal/middleware"
	"clipsync/internal/repository"
	"clipsync/internal/services"
	"clipsync/internal/sync"

	"github.com/gorilla/mux"
)

// Handler handles HTTP requests for session inspection. The write path is
// websocket-only; REST is read-only so clients cannot bypass the CRDT.
type Handler struct {
	sessions  *sync.SessionManager
	wsHandler *sync.WebSocketHandler
	opRepo    *repository.OperationRepositoryImpl
	persist   *services.PersistServiceImpl
}

func NewHandler(
	sessions *sync.SessionManager,
	wsHandler *sync.WebSocketHandler,
	opRepo *repository.OperationRepositoryImpl,
	persist *services.PersistServiceImpl,
) *Handler {
	return &Handler{
		sessions:  sessions,
		wsHandler: wsHandler,
		opRepo:    opRepo,
		persist:   persist,
	}
}

// sessionSummary is the REST projection of a live session.
type sessionSummary struct {
	ID         collab.SessionID `json:"id"`
	CreatedAt  time.Time        `json:"created_at"`
	Users      []collab.User    `json:"users"`
	Operations int              `json:"operations"`
}

// ListSessions returns every live session.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	live := h.sessions.Sessions()
	summaries := make([]sessionSummary, 0, len(live))
	for _, s := range live {
		ops, _ := s.Snapshot()
		summaries = append(summaries, sessionSummary{
			ID:         s.ID,
			CreatedAt:  s.CreatedAt,
			Users:      s.Users(),
			Operations: len(ops),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": summaries,
	})
}

// GetSession returns one live session with its current vector clock and
// pending conflicts.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := collab.SessionID(mux.Vars(r)["id"])
	session := h.sessions.Session(id)
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	ops, clock := session.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                session.ID,
		"created_at":        session.CreatedAt,
		"users":             session.Users(),
		"operations":        len(ops),
		"clock":             clock,
		"pending_conflicts": session.PendingConflicts(),
	})
}

// GetSessionOperations returns a session's operation history. Live sessions
// answer from memory; otherwise the stored log is consulted.
func (h *Handler) GetSessionOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if session := h.sessions.Session(collab.SessionID(id)); session != nil {
		ops, _ := session.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id": id,
			"source":     "memory",
			"operations": ops,
		})
		return
	}

	records, err := h.opRepo.GetSessionOperations(ctx, id)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ops, err := services.RestoreOperations(records)
	if err != nil {
		middleware.AddSpanError(ctx, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"source":     "storage",
		"operations": ops,
	})
}

// GetSessionTimeline returns the materialized document of a live session.
func (h *Handler) GetSessionTimeline(w http.ResponseWriter, r *http.Request) {
	id := collab.SessionID(mux.Vars(r)["id"])
	session := h.sessions.Session(id)
	if session == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, session.Timeline())
}

// Health reports liveness plus persistence queue depth.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "ok",
		"sessions":      len(h.sessions.Sessions()),
		"persist_queue": h.persist.GetQueueLength(),
	})
}

// HandleSessionWebSocket upgrades the connection and joins the session.
func (h *Handler) HandleSessionWebSocket(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleSessionConnection(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
