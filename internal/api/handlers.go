package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/veldrane/eidolon/internal/apperr"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/opclient"
	"github.com/veldrane/eidolon/internal/store"
)

// Handler holds API route handlers. Reads go straight to the store; every
// mutation goes through the operation client so only the elected executor
// ever writes.
type Handler struct {
	client *opclient.Client
	store  store.Store

	// reopenMin guards the open-container surface against rapid re-opens.
	reopenMin  time.Duration
	mu         sync.Mutex
	lastOpened map[string]time.Time
}

// NewHandler creates a new Handler. reopenMin <= 0 disables the re-open guard.
func NewHandler(client *opclient.Client, st store.Store, reopenMin time.Duration) *Handler {
	return &Handler{
		client:     client,
		store:      st,
		reopenMin:  reopenMin,
		lastOpened: make(map[string]time.Time),
	}
}

var knownOps = map[string]bool{
	"ensure-container": true,
	"create-record":    true,
	"fabricate":        true,
	"recall":           true,
	"set-flag":         true,
	"assign-category":  true,
	"mirror":           true,
	"notify":           true,
}

// RelayOp handles POST /ops/{op}: the remote-peer transport. The body is the
// operation's ordered argument list; the response wraps its single result.
func (h *Handler) RelayOp(w http.ResponseWriter, r *http.Request) {
	op := chi.URLParam(r, "op")
	if !knownOps[op] {
		writeJSON(w, http.StatusNotFound, errorBody("unknown operation"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req OpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	result, err := h.client.Do(r.Context(), op, req.Args...)
	if err != nil {
		h.writeOpError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, OpResponse{Result: result})
}

// TriggerEntry handles POST /entry/{ownerID}: the creation entry point. It
// ensures the owner's container exists and returns the container view.
func (h *Handler) TriggerEntry(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	if ownerID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("owner is required"))
		return
	}

	containerID, err := h.client.EnsureContainer(r.Context(), ownerID)
	if err != nil {
		h.writeOpError(w, "ensure-container", err)
		return
	}

	view, err := h.containerView(containerID)
	if err != nil {
		h.writeOpError(w, "open", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// OpenContainer handles GET /containers/{id}. Re-opening the same container
// within the minimum interval is rejected, which keeps double-fired UI
// triggers from rendering twice.
func (h *Handler) OpenContainer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("container is required"))
		return
	}

	if !h.allowOpen(id) {
		writeJSON(w, http.StatusTooManyRequests, errorBody("container recently opened"))
		return
	}

	view, err := h.containerView(id)
	if err != nil {
		h.writeOpError(w, "open", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Catalog handles GET /catalog: the folder tree with its mirrors.
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	folders, err := h.store.ListFolders()
	if err != nil {
		slog.Error("catalog read failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	resp := CatalogResponse{Folders: []CatalogFolder{}}
	byID := make(map[string]models.Folder, len(folders))
	for _, f := range folders {
		byID[f.ID] = f
	}
	for _, f := range folders {
		if f.ParentID == "" {
			if resp.Root == nil {
				root := f
				resp.Root = &root
			}
			continue
		}
		mirrors, err := h.store.ListRecordsByFolder(f.ID)
		if err != nil {
			slog.Error("catalog read failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
			return
		}
		if mirrors == nil {
			mirrors = []models.Record{}
		}
		resp.Folders = append(resp.Folders, CatalogFolder{Folder: f, Mirrors: mirrors})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) containerView(containerID string) (*ContainerView, error) {
	container, err := h.store.GetRecord(containerID)
	if err != nil {
		return nil, err
	}
	if container.Kind != models.KindContainer {
		return nil, apperr.ErrNotFound
	}
	blueprints, err := h.store.ListRecordsByContainer(containerID)
	if err != nil {
		return nil, err
	}
	if blueprints == nil {
		blueprints = []models.Record{}
	}
	assignments := make([]models.Assignment, 0, len(blueprints))
	for _, b := range blueprints {
		a, err := h.store.GetAssignment(containerID, b.ID)
		if errors.Is(err, apperr.ErrNotFound) {
			// Name fallback: a re-created record may still carry an
			// assignment keyed by its old identifier.
			a, err = h.store.GetAssignmentByName(containerID, b.Name)
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
		}
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, *a)
	}
	return &ContainerView{
		Container:   *container,
		Blueprints:  blueprints,
		Assignments: assignments,
	}, nil
}

// allowOpen records an open attempt and reports whether it passed the
// minimum-interval guard.
func (h *Handler) allowOpen(containerID string) bool {
	if h.reopenMin <= 0 {
		return true
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	if last, ok := h.lastOpened[containerID]; ok && now.Sub(last) < h.reopenMin {
		return false
	}
	h.lastOpened[containerID] = now
	return true
}

// writeOpError maps the error taxonomy onto HTTP statuses. Transport errors
// (no executor) are 503 so peers can tell them from logical failures.
func (h *Handler) writeOpError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNoExecutor):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("no executor available"))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrExhausted):
		writeJSON(w, http.StatusConflict, errorBody("resource pool exhausted"))
	case errors.Is(err, apperr.ErrInvalidCategory), errors.Is(err, apperr.ErrUnknownOp):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error("operation failed", slog.String("op", op), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}
