package watches_api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"seatwatch/internal/models"
	"seatwatch/internal/services/watches"
)

// WatchesAPI is the HTTP surface for watch management. Status checks happen
// in the worker process; this side only manages the watch set and reads
// current state.
type WatchesAPI struct {
	svc *watches.Service
}

func New(svc *watches.Service) *WatchesAPI {
	return &WatchesAPI{svc: svc}
}

func (a *WatchesAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/watches", a.createWatch)
	r.Delete("/watches", a.deleteWatch)
	r.Get("/watches", a.listWatches)
	r.Get("/stats", a.stats)
	return r
}

type createWatchRequest struct {
	UserID      uint64 `json:"userId"`
	ClassID     uint64 `json:"classId"`
	ClassNumber string `json:"classNumber"`
	Email       string `json:"email"`
}

func (a *WatchesAPI) createWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decode body"))
		return
	}

	created, err := a.svc.AddWatch(r.Context(), models.WatchCreateInput{
		UserID:      req.UserID,
		ClassID:     req.ClassID,
		ClassNumber: req.ClassNumber,
		Email:       req.Email,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *WatchesAPI) deleteWatch(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUint(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	classID, err := queryUint(r, "class_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.svc.RemoveWatch(r.Context(), userID, classID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, errors.New("no active watch"))
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

func (a *WatchesAPI) listWatches(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUint(r, "user_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ws, err := a.svc.ListWatches(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watches": ws})
}

func (a *WatchesAPI) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func queryUint(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, errors.Errorf("%s is required", name)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Errorf("%s is invalid", name)
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
