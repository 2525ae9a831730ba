package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hamed0406/sitepulse/internal/domain"
	apimw "github.com/hamed0406/sitepulse/internal/httpapi/middleware"
	"github.com/hamed0406/sitepulse/internal/probe"
	"github.com/hamed0406/sitepulse/internal/repo"
)

type Server struct {
	Logger  *zap.Logger
	Repo    *repo.Repository
	Checker probe.Checker

	// PersistTimeout bounds a save triggered by a CRUD request.
	PersistTimeout time.Duration
	// OnSaveError runs after a failed save so a later pass can retry.
	OnSaveError func()

	checks singleflight.Group
}

func NewServer(l *zap.Logger, r *repo.Repository, c probe.Checker) *Server {
	return &Server{Logger: l, Repo: r, Checker: c, PersistTimeout: 10 * time.Second}
}

// Router wires all routes. checkRPM and checkBurst limit /api/check per
// client IP; zero disables the limit.
func (s *Server) Router(checkRPM, checkBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)
	r.Use(apimw.Prometheus)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/monitors", s.handleListMonitors)
		r.Post("/monitors", s.handleAddMonitor)
		r.Get("/monitors/{id}", s.handleGetMonitor)
		r.Get("/monitors/{id}/history", s.handleMonitorHistory)
		r.Delete("/monitors/{id}", s.handleDeleteMonitor)

		r.Get("/subscribers", s.handleCountSubscribers)
		r.Post("/subscribers", s.handleSubscribe)
		r.Delete("/subscribers", s.handleUnsubscribe)

		r.Group(func(r chi.Router) {
			r.Use(apimw.RateLimit(checkRPM, checkBurst))
			r.Get("/check", s.handleCheck)
			r.Post("/check", s.handleCheck)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// persist saves after a mutation. The in-memory change stands either way.
func (s *Server) persist(r *http.Request, save func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.PersistTimeout)
	defer cancel()
	if err := save(ctx); err != nil {
		s.Logger.Error("api_persist_error", zap.String("path", r.URL.Path), zap.Error(err))
		if s.OnSaveError != nil {
			s.OnSaveError()
		}
		return err
	}
	return nil
}

func (s *Server) handleListMonitors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Repo.Monitors())
}

type addMonitorPayload struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

func (s *Server) handleAddMonitor(w http.ResponseWriter, r *http.Request) {
	var p addMonitorPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}

	m, err := s.Repo.AddMonitor(p.Name, p.URL)
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		writeError(w, http.StatusConflict, "monitor for this url already exists")
		return
	case errors.Is(err, domain.ErrInvalidMonitor):
		msg := "invalid url"
		if strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.URL) == "" {
			msg = "name and url required"
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not add")
		return
	}

	if err := s.persist(r, s.Repo.Save); err != nil {
		writeError(w, http.StatusInternalServerError, "could not persist")
		return
	}
	s.Logger.Info("monitor_added",
		zap.String("monitor_id", string(m.ID)),
		zap.String("name", m.Name),
		zap.String("url", m.URL),
	)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleGetMonitor(w http.ResponseWriter, r *http.Request) {
	m, ok := s.Repo.Monitor(domain.MonitorID(chi.URLParam(r, "id")))
	if !ok {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleMonitorHistory(w http.ResponseWriter, r *http.Request) {
	id := domain.MonitorID(chi.URLParam(r, "id"))
	if _, ok := s.Repo.Monitor(id); !ok {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	writeJSON(w, http.StatusOK, s.Repo.History().Samples(id))
}

func (s *Server) handleDeleteMonitor(w http.ResponseWriter, r *http.Request) {
	id := domain.MonitorID(chi.URLParam(r, "id"))
	if err := s.Repo.RemoveMonitor(id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "monitor not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not delete")
		return
	}
	if err := s.persist(r, s.Repo.Save); err != nil {
		writeError(w, http.StatusInternalServerError, "could not persist")
		return
	}
	s.Logger.Info("monitor_removed", zap.String("monitor_id", string(id)))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCountSubscribers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": s.Repo.SubscriberCount()})
}

type subscribePayload struct {
	Email   string `json:"email"`
	Address string `json:"address"`
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var p subscribePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "bad payload")
		return
	}
	raw := p.Address
	if raw == "" {
		raw = p.Email
	}

	sub, created, err := s.Repo.AddSubscriber(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	code := http.StatusOK
	if created {
		if err := s.persist(r, s.Repo.SaveSubscribers); err != nil {
			writeError(w, http.StatusInternalServerError, "could not persist")
			return
		}
		code = http.StatusCreated
		s.Logger.Info("subscriber_added", zap.String("channel", string(domain.ChannelOf(sub.Address))))
	}
	writeJSON(w, code, map[string]any{"address": sub.Address, "created": created})
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	err := s.Repo.RemoveSubscriber(r.URL.Query().Get("address"))
	switch {
	case errors.Is(err, domain.ErrInvalidSubscriber):
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, "subscriber not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not unsubscribe")
		return
	}
	if err := s.persist(r, s.Repo.SaveSubscribers); err != nil {
		writeError(w, http.StatusInternalServerError, "could not persist")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkResponse struct {
	Status         string `json:"status"`
	ResponseTimeMS *int64 `json:"responseTimeMs"`
	UsedFallback   bool   `json:"usedFallback"`
	HTTPStatus     int    `json:"httpStatus,omitempty"`
	Error          string `json:"error,omitempty"`
}

// handleCheck runs an ad-hoc probe. It never touches monitor state.
// Concurrent checks of the same URL share one probe.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if r.Method == http.MethodPost {
		var p struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, "bad payload")
			return
		}
		raw = p.URL
	}
	target, err := domain.NormalizeURL(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid url")
		return
	}

	v, _, shared := s.checks.Do(target, func() (any, error) {
		return s.Checker.Check(context.WithoutCancel(r.Context()), target), nil
	})
	out := v.(probe.Outcome)

	resp := checkResponse{
		Status:         "down",
		ResponseTimeMS: out.LatencyMS,
		UsedFallback:   out.UsedFallback,
		HTTPStatus:     out.HTTPStatus,
	}
	if out.OK {
		resp.Status = "up"
	} else {
		resp.Error = out.Message
	}
	s.Logger.Info("adhoc_check",
		zap.String("url", target),
		zap.String("status", resp.Status),
		zap.Bool("used_fallback", out.UsedFallback),
		zap.Bool("shared", shared),
	)
	writeJSON(w, http.StatusOK, resp)
}
