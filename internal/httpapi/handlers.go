package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ryabkov82/comfy-batch/internal/job"
	"github.com/ryabkov82/comfy-batch/internal/version"
)

// BatchStatus is the view of a running batch the API serves.
// *batch.Orchestrator implements it.
type BatchStatus interface {
	Units() []job.Unit
	Unit(id string) (job.Unit, error)
	Tally() job.Tally
	CancelUnit(id string) error
	Cancel() bool
}

// Handler handles HTTP requests
type Handler struct {
	batch  BatchStatus
	logger *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(batch BatchStatus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{batch: batch, logger: logger}
}

// GetVersion handles GET /version
func (h *Handler) GetVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, version.Info())
}

type tallyResponse struct {
	job.Tally
	Pending int `json:"pending"`
}

// GetTally handles GET /tally
func (h *Handler) GetTally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	t := h.batch.Tally()
	writeJSON(w, http.StatusOK, tallyResponse{Tally: t, Pending: t.Pending()})
}

// ListUnits handles GET /units, optionally filtered by ?status=
func (h *Handler) ListUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	units := h.batch.Units()
	if status := r.URL.Query().Get("status"); status != "" {
		filtered := make([]job.Unit, 0, len(units))
		for _, u := range units {
			if string(u.Status) == status {
				filtered = append(filtered, u)
			}
		}
		units = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(units),
		"units": units,
	})
}

// GetUnit handles GET /units/{unitId}
func (h *Handler) GetUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	unitID := strings.TrimPrefix(r.URL.Path, "/units/")
	if unitID == "" {
		http.Error(w, "unitId is required", http.StatusBadRequest)
		return
	}

	u, err := h.batch.Unit(unitID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// CancelUnit handles POST /units/{unitId}/cancel
func (h *Handler) CancelUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	unitID := strings.TrimPrefix(r.URL.Path, "/units/")
	unitID = strings.TrimSuffix(unitID, "/cancel")
	if unitID == "" {
		http.Error(w, "unitId is required", http.StatusBadRequest)
		return
	}

	if err := h.batch.CancelUnit(unitID); err != nil {
		switch {
		case errors.Is(err, job.ErrUnitNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, job.ErrAlreadyFinished):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	h.logger.Info("unit canceled via API", "unit", unitID, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

// CancelBatch handles POST /cancel
func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.batch.Cancel() {
		http.Error(w, "No batch is running", http.StatusConflict)
		return
	}

	h.logger.Warn("batch canceled via API", "remote", r.RemoteAddr)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "canceling"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
