package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/oakmere/drguard/internal/backup"
	"github.com/oakmere/drguard/internal/dr"
)

const defaultHistoryLimit = 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.GetStatus())
}

func (s *Server) handleHealthHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = n
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": s.orch.GetHealthHistory(limit),
	})
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	results := s.orch.PerformHealthCheck(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
	})
}

type failoverRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleFailover(w http.ResponseWriter, r *http.Request) {
	var req failoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Reason == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("reason is required"))
		return
	}

	event, err := s.orch.InitiateFailover(r.Context(), req.Reason, true)
	if err != nil {
		switch {
		case errors.Is(err, dr.ErrFailoverInProgress):
			s.writeError(w, http.StatusConflict, err)
		case errors.Is(err, dr.ErrRegionUnhealthy):
			s.writeJSON(w, http.StatusBadGateway, map[string]interface{}{
				"error": err.Error(),
				"event": event,
			})
		default:
			s.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error": err.Error(),
				"event": event,
			})
		}
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleFailoverTest(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.TestFailover(r.Context()))
}

type recoveryRequest struct {
	BackupID             string `json:"backup_id"`
	RestoreDocuments     bool   `json:"restore_documents"`
	RestoreConfiguration bool   `json:"restore_configuration"`
	DryRun               bool   `json:"dry_run"`
}

func (s *Server) handleRecovery(w http.ResponseWriter, r *http.Request) {
	var req recoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.BackupID == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("backup_id is required"))
		return
	}

	opts := backup.RestoreOptions{
		BackupID:             req.BackupID,
		RestoreDocuments:     req.RestoreDocuments,
		RestoreConfiguration: req.RestoreConfiguration,
		DryRun:               req.DryRun,
	}
	if err := s.orch.PerformDisasterRecovery(r.Context(), opts); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "completed",
		"backup_id": req.BackupID,
	})
}

// handleEvents replays retained lifecycle events, defaulting to the
// last hour.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := now.Add(-time.Hour)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("from must be RFC3339"))
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, errors.New("to must be RFC3339"))
			return
		}
		to = t
	}

	evts, err := s.bus.Replay(from, to)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": evts,
	})
}
