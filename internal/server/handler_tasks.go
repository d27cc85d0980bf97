package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/taskd/internal/store"
	"github.com/me/taskd/pkg/model"
)

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiErr := &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		}
		if errors.Is(err, model.ErrInvalidTaskType) {
			apiErr = model.NewValidationError("invalid task",
				model.FieldError{Field: "task_type", Message: err.Error()})
		}
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	now := s.now()
	if apiErr := req.Validate(now); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	task := req.NewTask(now)
	id, err := s.store.CreateTask(r.Context(), task)
	if err != nil {
		s.logger.Error("create task", "error", err)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}

	s.logger.Info("task created",
		"task_id", id, "task_type", task.TaskType,
		"scheduled_for", task.ScheduledFor, "repeat", task.Repeat)
	respondCreated(w, reqID, model.CreateTaskResponse{ID: id})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var filter model.TaskType
	if raw := r.URL.Query().Get("task_type"); raw != "" {
		tt, err := model.ParseTaskType(raw)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid filter",
				model.FieldError{Field: "task_type", Message: err.Error()}))
			return
		}
		filter = tt
	}

	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}

	out := make([]*model.Task, 0, len(tasks))
	for _, t := range tasks {
		if filter == "" || t.TaskType == filter {
			out = append(out, t)
		}
	}
	respondOK(w, reqID, out)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := taskIDParam(w, r, reqID)
	if !ok {
		return
	}

	task, err := s.store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", chi.URLParam(r, "id")))
		return
	}
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError(err))
		return
	}
	respondOK(w, reqID, task)
}

// handleDeleteTask reports the number of rows removed; deleting an unknown
// id is not an error.
func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id, ok := taskIDParam(w, r, reqID)
	if !ok {
		return
	}

	n, err := s.store.DeleteTask(r.Context(), id)
	if err != nil {
		s.logger.Error("delete task", "task_id", id, "error", err)
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrInternal,
			Message: err.Error(),
		})
		return
	}
	if n > 0 {
		s.logger.Info("task deleted", "task_id", id)
	}
	respondOK(w, reqID, model.DeleteTaskResponse{Deleted: n})
}

// taskIDParam parses the {id} path segment, writing a 400 when it is not
// an integer.
func taskIDParam(w http.ResponseWriter, r *http.Request, reqID string) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid task id",
			model.FieldError{Field: "id", Message: strconv.Quote(raw) + " is not an integer"}))
		return 0, false
	}
	return id, true
}
