package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/podushkina/taskenvelope/internal/envelope"
	"github.com/podushkina/taskenvelope/internal/queue"
	"github.com/podushkina/taskenvelope/internal/serializer"
	"github.com/podushkina/taskenvelope/internal/task"
)

type Handler struct {
	queue *queue.Queue
	opts  envelope.Options
	log   *zap.Logger
}

func NewHandler(q *queue.Queue, opts envelope.Options, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{queue: q, opts: opts, log: log}
}

type ErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type CreateTaskResponse struct {
	ID    string `json:"id"`
	Task  string `json:"task"`
	Queue string `json:"queue"`
}

type QueueStatsResponse struct {
	Name        string `json:"name"`
	Pending     int64  `json:"pending"`
	DeadLetters int64  `json:"dead_letters"`
}

// EncodeEnvelope answers with the envelope of the posted invocation.
// ?content_type= selects another body serializer.
func (h *Handler) EncodeEnvelope(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.readInvocation(w, r)
	if !ok {
		return
	}

	env, err := envelope.Encode(inv, h.options(r))
	if err != nil {
		h.respondCodecError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, env)
}

func (h *Handler) DecodeEnvelope(w http.ResponseWriter, r *http.Request) {
	var env envelope.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	inv, err := envelope.Decode(env)
	if err != nil {
		h.respondCodecError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, inv)
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	inv, ok := h.readInvocation(w, r)
	if !ok {
		return
	}

	env, err := envelope.Encode(inv, h.options(r))
	if err != nil {
		h.respondCodecError(w, err)
		return
	}

	if err := h.queue.Publish(r.Context(), env); err != nil {
		h.log.Error("publish failed", zap.String("task_id", env.ID()), zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.log.Info("task published", zap.String("task", env.TaskName()), zap.String("task_id", env.ID()))

	respondJSON(w, http.StatusCreated, CreateTaskResponse{
		ID:    env.ID(),
		Task:  env.TaskName(),
		Queue: h.queue.Name(),
	})
}

func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Len(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dead, err := h.queue.DeadLen(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, QueueStatsResponse{
		Name:        h.queue.Name(),
		Pending:     pending,
		DeadLetters: dead,
	})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) readInvocation(w http.ResponseWriter, r *http.Request) (task.Invocation, bool) {
	var inv task.Invocation
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&inv); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return task.Invocation{}, false
	}

	if inv.Args != nil {
		inv.Args = serializer.NormalizeNumbers(inv.Args).([]any)
	}
	if inv.Kwargs != nil {
		inv.Kwargs = serializer.NormalizeNumbers(inv.Kwargs).(map[string]any)
	}
	if inv.Options != nil {
		inv.Options = serializer.NormalizeNumbers(map[string]any(inv.Options)).(map[string]any)
	}
	if inv.Extra != nil {
		inv.Extra = serializer.NormalizeNumbers(inv.Extra).(map[string]any)
	}
	return inv, true
}

func (h *Handler) options(r *http.Request) envelope.Options {
	opts := h.opts
	if ct := r.URL.Query().Get("content_type"); ct != "" {
		opts.ContentType = ct
		opts.ContentEncoding = ""
	}
	return opts
}

func (h *Handler) respondCodecError(w http.ResponseWriter, err error) {
	var (
		verr *envelope.ValidationError
		uerr *envelope.UnsupportedEncodingError
		berr *envelope.MalformedBodyError
		merr *envelope.MissingFieldError
		ierr *envelope.InvalidFieldError
	)
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Field: verr.Field})
	case errors.As(err, &uerr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: uerr.Field})
	case errors.As(err, &berr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: "body"})
	case errors.As(err, &merr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: merr.Field})
	case errors.As(err, &ierr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Field: ierr.Field})
	default:
		h.log.Error("codec failure", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}
