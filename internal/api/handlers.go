package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

type syncResponse struct {
	OK       bool   `json:"ok"`
	RunID    string `json:"run_id"`
	Fetched  int    `json:"fetched"`
	Skipped  int    `json:"skipped"`
	Upserted int    `json:"upserted"`
	Failed   int    `json:"failed"`
}

type listResponse struct {
	Count int               `json:"count"`
	Data  []json.RawMessage `json:"data"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.syncer.Run(r.Context(), mgnrega.RunOptions{
		Trigger: mgnrega.TriggerAPI,
		Full:    r.URL.Query().Get("full") == "true",
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Sync failed", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		OK:       true,
		RunID:    res.RunID,
		Fetched:  res.Fetched,
		Skipped:  res.Skipped,
		Upserted: res.Upserted,
		Failed:   res.Failed,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	recs, err := s.views.Latest(r.Context())
	if err != nil {
		zap.L().Error("api: latest view", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Failed to load latest records", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toList(recs))
}

func (s *Server) handleDistrict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	recs, err := s.views.History(r.Context(), id)
	if errors.Is(err, mgnrega.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "No records found"})
		return
	}
	if err != nil {
		zap.L().Error("api: district history", zap.String("id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "Failed to load district history", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toList(recs))
}

func toList(recs []mgnrega.DistrictRecord) listResponse {
	data := make([]json.RawMessage, len(recs))
	for i, rec := range recs {
		data[i] = rec.Raw
	}
	return listResponse{Count: len(recs), Data: data}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}
