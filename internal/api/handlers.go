package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/anders94/stablecoin-wars-backend/internal/types"
)

// handleGetStatus returns a contract's sync_state: cursor, status, and
// last error if any.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	contractID, err := contractIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	state, err := s.syncStateRepo.Get(r.Context(), contractID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// handleGetMetrics returns every metrics bucket for a contract within
// [from, to) at the requested resolution, defaulting to the query
// contract's "auto" mapping when resolution is omitted.
func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	contractID, err := contractIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	resolution, err := types.ParseResolution(r.URL.Query().Get("resolution"), from, to)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	rows, err := s.metricsRepo.Range(r.Context(), contractID, resolution, from.Unix(), to.Unix())
	if err != nil {
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"contract_id": contractID,
		"resolution":  resolution,
		"buckets":     rows,
	})
}

// handleTriggerSync enqueues a sync job for the contract, the same path
// the catch-up timer takes, so a caller can force an out-of-band pass
// without waiting on the timer.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	contractID, err := contractIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if _, err := s.contractRepo.Get(r.Context(), contractID); err != nil {
		respondStorageError(w, err)
		return
	}

	if err := s.enqueuer.EnqueueSync(r.Context(), contractID); err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "sync enqueued"})
}

// handleResetContract wipes a contract's metrics, rewinds its cursor to
// zero, and re-enqueues discovery — §6's resetContract(contractId).
func (s *Server) handleResetContract(w http.ResponseWriter, r *http.Request) {
	contractID, err := contractIDFromPath(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if _, err := s.contractRepo.Get(r.Context(), contractID); err != nil {
		respondStorageError(w, err)
		return
	}

	if err := s.metricsRepo.DeleteByContract(r.Context(), contractID); err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		return
	}

	if err := s.syncStateRepo.Reset(r.Context(), contractID); err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		return
	}

	if err := s.enqueuer.EnqueueDiscover(r.Context(), contractID); err != nil {
		respondError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "contract reset, discovery re-enqueued"})
}

func contractIDFromPath(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, &types.ServiceError{Code: "INVALID_CONTRACT_ID", Message: "invalid contract id: " + raw}
	}
	return id, nil
}

// parseRange reads "from"/"to" unix-second query params, defaulting to the
// trailing 30 days when either is absent.
func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.Add(-30 * 24 * time.Hour)
	to := now

	if raw := r.URL.Query().Get("from"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, time.Time{}, &types.ServiceError{Code: "INVALID_RANGE", Message: "invalid from: " + raw}
		}
		from = time.Unix(sec, 0).UTC()
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, time.Time{}, &types.ServiceError{Code: "INVALID_RANGE", Message: "invalid to: " + raw}
		}
		to = time.Unix(sec, 0).UTC()
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, &types.ServiceError{Code: "INVALID_RANGE", Message: "to must be after from"}
	}
	return from, to, nil
}
