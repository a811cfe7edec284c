// Package api exposes the reminder store to the browser UI as JSON over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/pathakanu/healthReminder/internal/model"
	"github.com/pathakanu/healthReminder/internal/store"
	"github.com/sirupsen/logrus"
)

// ReminderStore is the store surface served over HTTP.
type ReminderStore interface {
	Save(ctx context.Context, reminder *model.Reminder) error
	Update(ctx context.Context, reminder *model.Reminder) error
	Get(ctx context.Context, id int64) (*model.Reminder, error)
	List(ctx context.Context) ([]model.Reminder, error)
	Delete(ctx context.Context, id int64) error
	Clear(ctx context.Context) error
}

// Handler serves /reminders.
type Handler struct {
	store    ReminderStore
	validate *validator.Validate
	logger   logrus.FieldLogger
}

// New creates a Handler backed by store.
func New(store ReminderStore, logger logrus.FieldLogger) *Handler {
	return &Handler{
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes mounts the reminder endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/reminders", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.save)
		r.Delete("/", h.clear)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

// Router builds the full middleware stack with the webhook mounted beside the API.
func Router(h *Handler, webhook http.Handler, logger logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		middleware.RealIP,
		middleware.CleanPath,
		requestLogger(logger),
		middleware.Timeout(30*time.Second),
	)
	h.Routes(r)
	if webhook != nil {
		r.Post("/twilio/webhook", webhook.ServeHTTP)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	reminders, err := h.store.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminders)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reminder, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	reminder, ok := h.decode(w, r)
	if !ok {
		return
	}
	if err := h.store.Save(r.Context(), reminder); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, reminder)
}

// update upserts; the path id overrides any id in the body.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reminder, ok := h.decodeWithID(w, r, id)
	if !ok {
		return
	}
	if err := h.store.Update(r.Context(), reminder); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reminder)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.store.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Clear(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (*model.Reminder, bool) {
	return h.decodeWithID(w, r, 0)
}

func (h *Handler) decodeWithID(w http.ResponseWriter, r *http.Request, id int64) (*model.Reminder, bool) {
	var reminder model.Reminder
	if err := json.NewDecoder(r.Body).Decode(&reminder); err != nil {
		writeError(w, http.StatusBadRequest, "invalid reminder body: "+err.Error())
		return nil, false
	}
	if id != 0 {
		reminder.ID = id
	}
	if err := h.validate.Struct(reminder); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &reminder, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrMissingID):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.WithError(err).WithField("path", r.URL.Path).Error("api: store failure")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "invalid reminder id")
		return 0, false
	}
	return id, true
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestLogger(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   ww.Status(),
				"duration": time.Since(start),
			}).Debug("http request")
		})
	}
}
