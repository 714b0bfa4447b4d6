package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/db"
	"github.com/nijaru/tubeprompt/errors"
	"github.com/nijaru/tubeprompt/models"
)

type acquisitionResultRequest struct {
	TabID  string        `json:"tab_id"`
	Result models.Result `json:"result"`
}

// handleStartAcquisition handles POST /api/v1/acquisitions (START_ACQUISITION).
func (s *Server) handleStartAcquisition(w http.ResponseWriter, r *http.Request) {
	var req models.AcquisitionRequest
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	id, err := s.dispatcher.StartAcquisition(r.Context(), req)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	respondJSON(w, r, http.StatusAccepted, map[string]string{"request_id": id})
}

func (s *Server) handleGetAcquisition(w http.ResponseWriter, r *http.Request) {
	a, err := s.dispatcher.Acquisition(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, a)
}

// handleAcquisitionResult accepts a TRANSCRIPT_FETCHED report from an
// extractor running outside this process.
func (s *Server) handleAcquisitionResult(w http.ResponseWriter, r *http.Request) {
	const op = "Server.handleAcquisitionResult"

	var req acquisitionResultRequest
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if req.TabID == "" {
		respondError(w, r, s.logger, errors.InvalidInput(op, nil, "tab_id is required"))
		return
	}
	if req.Result.OK == (req.Result.Value == nil) {
		respondError(w, r, s.logger, errors.InvalidInput(op, nil, "result must carry a value or a reason, not both"))
		return
	}

	requestID := chi.URLParam(r, "id")
	s.logger.WithFields(logrus.Fields{
		"op":         op,
		"request_id": requestID,
		"tab_id":     req.TabID,
		"type":       models.MsgTranscriptFetched,
	}).Info("External result received")

	accepted := s.dispatcher.OnAcquisitionComplete(r.Context(), req.Result, req.TabID, requestID)
	respondJSON(w, r, http.StatusOK, map[string]bool{"accepted": accepted})
}

// handleSetRange handles PUT /api/v1/acquisitions/range (SET_TRANSCRIPT_RANGE).
func (s *Server) handleSetRange(w http.ResponseWriter, r *http.Request) {
	var req models.SetTranscriptRange
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if err := s.dispatcher.SetRange(r.Context(), req.TabID, req.Range); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDeliver handles POST /api/v1/deliveries (DELIVER_TO_CHATGPT).
func (s *Server) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req models.PromptRequest
	if err := readJSON(w, r, &req); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	chatTab, err := s.dispatcher.StartDelivery(r.Context(), req)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, r, http.StatusAccepted, map[string]string{"chat_tab_id": chatTab})
}

func (s *Server) handleTabs(w http.ResponseWriter, r *http.Request) {
	tabs, err := s.dispatcher.Tabs(r.Context())
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, tabs)
}

func (s *Server) handleListPreferences(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.prefs.Preferences(r.Context())
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	if _, ok := prefs[db.PrefToken]; ok {
		prefs[db.PrefToken] = "********"
	}
	respondJSON(w, r, http.StatusOK, prefs)
}

func (s *Server) handleGetPreference(w http.ResponseWriter, r *http.Request) {
	const op = "Server.handleGetPreference"

	key := chi.URLParam(r, "key")
	if !db.KnownPreference(key) {
		respondError(w, r, s.logger, errors.NotFound(op, nil, "unknown preference"))
		return
	}
	value, err := s.prefs.Preference(r.Context(), key)
	if err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handleSetPreference(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value string `json:"value"`
	}
	if err := readJSON(w, r, &body); err != nil {
		respondError(w, r, s.logger, err)
		return
	}

	key := chi.URLParam(r, "key")
	if err := s.prefs.SetPreference(r.Context(), key, body.Value); err != nil {
		respondError(w, r, s.logger, err)
		return
	}
	respondJSON(w, r, http.StatusOK, map[string]string{"key": key, "value": body.Value})
}
