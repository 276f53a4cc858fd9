package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"vigil/core"
)

const maxCommandBodyBytes = 4096

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type commandResponse struct {
	ID     core.ID `json:"id"`
	Status string  `json:"status"`
}

// respondJSON writes a JSON response with proper error handling
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, err error) {
	kind := ""
	if statusCode != http.StatusTooManyRequests {
		kind = core.ErrorKind(err)
	}
	a.respondJSON(w, errorResponse{Error: err.Error(), Kind: kind}, statusCode)
}

// commandStatus maps a command error to an HTTP status.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, core.ErrMutationRejected):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

// limitParam parses ?limit=, accepting 1..1000.
func limitParam(r *http.Request) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			return parsed
		}
	}
	return 0
}

func (a *API) getState(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.state.View(), http.StatusOK)
}

// getThreats lists threats newest first, optionally filtered by ?status=.
func (a *API) getThreats(w http.ResponseWriter, r *http.Request) {
	threats := a.state.Threats()
	if status := core.ThreatStatus(r.URL.Query().Get("status")); status != "" {
		if !status.IsValid() {
			a.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", status))
			return
		}
		filtered := threats[:0]
		for _, t := range threats {
			if t.Status == status {
				filtered = append(filtered, t)
			}
		}
		threats = filtered
	}
	a.respondJSON(w, map[string]interface{}{"threats": threats}, http.StatusOK)
}

// getAlerts lists alerts newest first; ?unread=true keeps unread ones.
func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := a.state.Alerts()
	if r.URL.Query().Get("unread") == "true" {
		filtered := alerts[:0]
		for _, al := range alerts {
			if !al.Read {
				filtered = append(filtered, al)
			}
		}
		alerts = filtered
	}
	a.respondJSON(w, map[string]interface{}{"alerts": alerts}, http.StatusOK)
}

// getLogs lists log entries newest first. Supports ?limit= and ?anomalous=true.
func (a *API) getLogs(w http.ResponseWriter, r *http.Request) {
	logs := a.state.Logs()
	if r.URL.Query().Get("anomalous") == "true" {
		filtered := logs[:0]
		for _, l := range logs {
			if l.IsAnomalous() {
				filtered = append(filtered, l)
			}
		}
		logs = filtered
	}
	if limit := limitParam(r); limit > 0 && limit < len(logs) {
		logs = logs[:limit]
	}
	a.respondJSON(w, map[string]interface{}{"logs": logs}, http.StatusOK)
}

func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, a.state.Stats(), http.StatusOK)
}

func (a *API) getErrors(w http.ResponseWriter, r *http.Request) {
	if a.errLog == nil {
		a.respondError(w, http.StatusServiceUnavailable, errors.New("error log not available"))
		return
	}
	a.respondJSON(w, map[string]interface{}{"errors": a.errLog.Recent()}, http.StatusOK)
}

func (a *API) getPendingMutations(w http.ResponseWriter, r *http.Request) {
	if a.commands == nil {
		a.respondError(w, http.StatusServiceUnavailable, errors.New("commands not available"))
		return
	}
	a.respondJSON(w, map[string]interface{}{"pending": a.commands.Pending()}, http.StatusOK)
}

// respondToThreat runs the respond command. The body {"action": "..."} is
// optional.
func (a *API) respondToThreat(w http.ResponseWriter, r *http.Request) {
	if a.commands == nil {
		a.respondError(w, http.StatusServiceUnavailable, errors.New("commands not available"))
		return
	}
	id := core.ID(mux.Vars(r)["id"])

	var body struct {
		Action string `json:"action"`
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBodyBytes))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			a.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
	}

	if err := a.commands.RespondToThreat(r.Context(), id, body.Action); err != nil {
		a.respondError(w, commandStatus(err), err)
		return
	}
	a.respondJSON(w, commandResponse{ID: id, Status: "accepted"}, http.StatusOK)
}

func (a *API) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if a.commands == nil {
		a.respondError(w, http.StatusServiceUnavailable, errors.New("commands not available"))
		return
	}
	id := core.ID(mux.Vars(r)["id"])

	if err := a.commands.AcknowledgeAlert(r.Context(), id); err != nil {
		a.respondError(w, commandStatus(err), err)
		return
	}
	a.respondJSON(w, commandResponse{ID: id, Status: "accepted"}, http.StatusOK)
}

// healthCheck reports the push connection state; a stale view is still healthy.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	v := a.state.View()
	a.respondJSON(w, map[string]interface{}{
		"status":     "ok",
		"connection": v.Connection,
		"stale":      v.Stale,
		"version":    v.Version,
		"clients":    a.hub.ClientCount(),
	}, http.StatusOK)
}
