package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"permafrost-hq/permafrost/pkg/retention"
	"permafrost-hq/permafrost/pkg/retention/scheduler"
	"permafrost-hq/permafrost/pkg/retention/veto"
)

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, retention.ErrApprovalNotFound),
		errors.Is(err, retention.ErrTaskNotFound),
		errors.Is(err, retention.ErrPolicyNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, retention.ErrApprovalResolved):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, retention.ErrImmutableKB):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleRetentionHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.RetentionHealth())
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending := s.service.PendingApprovals()
	if pending == nil {
		pending = []*veto.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// decisionRequest is the body of approve and deny calls.
type decisionRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}

	result, err := s.service.ApproveDeletion(r.Context(), r.PathValue("id"), req.Approver)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Approver == "" {
		writeError(w, http.StatusBadRequest, "approver is required")
		return
	}

	if err := s.service.DenyDeletion(r.Context(), r.PathValue("id"), req.Approver, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
}

// eternalRequest is the body of the eternal mark call.
type eternalRequest struct {
	KBName   string `json:"kb_name"`
	MemoryID string `json:"memory_id"`
	MarkedBy string `json:"marked_by"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleMarkEternal(w http.ResponseWriter, r *http.Request) {
	var req eternalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.KBName == "" || req.MemoryID == "" || req.MarkedBy == "" {
		writeError(w, http.StatusBadRequest, "kb_name, memory_id, and marked_by are required")
		return
	}

	marker, err := s.service.MarkMemoryAsEternal(r.Context(), req.KBName, req.MemoryID, req.MarkedBy, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, marker)
}

func (s *Server) handleListEternal(w http.ResponseWriter, r *http.Request) {
	markers := s.service.EternalMarkers(r.PathValue("kb"))
	if markers == nil {
		markers = []retention.EternalMarker{}
	}
	writeJSON(w, http.StatusOK, markers)
}

// taskView is the JSON shape of one scheduled task.
type taskView struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Kind           string     `json:"kind"`
	CronExpression string     `json:"cron_expression"`
	KBName         string     `json:"kb_name,omitempty"`
	Enabled        bool       `json:"enabled"`
	LastRun        *time.Time `json:"last_run,omitempty"`
	NextRun        *time.Time `json:"next_run,omitempty"`
}

func viewOf(task scheduler.Task) taskView {
	return taskView{
		ID:             task.ID,
		Name:           task.Name,
		Kind:           string(task.Kind),
		CronExpression: task.CronExpression,
		KBName:         task.KBName,
		Enabled:        task.Enabled,
		LastRun:        task.LastRun,
		NextRun:        task.NextRun,
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.service.Scheduler().Tasks()
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, viewOf(task))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.Scheduler().ForceRunTask(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	task, err := s.service.Scheduler().TaskByID(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(task))
}
