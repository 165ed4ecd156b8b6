// Package httpapi is the JSON API consumed by the dashboard and the external
// detector.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hperssn/focuswatch/internal/account"
	"github.com/hperssn/focuswatch/internal/clock"
	"github.com/hperssn/focuswatch/internal/domain"
	"github.com/hperssn/focuswatch/internal/metrics"
	"github.com/hperssn/focuswatch/internal/runner"
	"github.com/hperssn/focuswatch/internal/signal"
	"github.com/hperssn/focuswatch/internal/stats"
)

// pushTimeout bounds how long a detector request waits for the capture loop
// to take its frame.
const pushTimeout = 5 * time.Second

type Server struct {
	Accounts *account.Service
	Manager  *runner.Manager
	Hub      *signal.Hub
	Stats    *stats.Engine
	// Metrics is optional; /metrics is mounted when set.
	Metrics *metrics.Metrics
	Clock   clock.Clock
}

func (s *Server) Routes() http.Handler {
	if s.Clock == nil {
		s.Clock = clock.System{}
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", s.login)
		r.Get("/users", s.listUsers)
		r.Get("/comparison_data", s.comparisonData)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(s.Accounts))

			r.Get("/settings", s.getSettings)
			r.Post("/settings", s.updateSettings)
			r.Post("/start_monitoring", s.startMonitoring)
			r.Post("/stop_monitoring", s.stopMonitoring)
			r.Get("/status", s.status)
			r.Post("/signal", s.pushSignal)
			r.Post("/signal/unavailable", s.signalUnavailable)
			r.Get("/dashboard_data", s.dashboardData)
			r.Post("/reset_user_data", s.resetUserData)
			r.Get("/export_data/{format}", s.exportData)
			r.Get("/events", StreamEvents(s.Manager))
		})
	})

	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	return r
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := s.Accounts.Login(r.Context(), req.Username)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, newUserView(user), http.StatusOK)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Accounts.Users(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}

	out := make([]userView, 0, len(users))
	for i := range users {
		out = append(out, newUserView(&users[i]))
	}
	respondJSON(w, out, http.StatusOK)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, newSettingsView(currentUser(r).Settings), http.StatusOK)
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DailyGoalMinutes    *int     `json:"daily_goal_minutes"`
		EyeClosureThreshold *float64 `json:"eye_closure_threshold"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var patch account.SettingsPatch
	patch.DailyGoalMinutes = req.DailyGoalMinutes
	if req.EyeClosureThreshold != nil {
		secs := *req.EyeClosureThreshold
		if math.IsNaN(secs) || math.IsInf(secs, 0) || secs > math.MaxInt64/float64(time.Second) {
			respondError(w, "eye_closure_threshold out of range", http.StatusBadRequest)
			return
		}
		d := time.Duration(math.Round(secs * float64(time.Second)))
		patch.EyeClosureThreshold = &d
	}

	settings, err := s.Accounts.UpdateSettings(r.Context(), currentUser(r).ID, patch)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, newSettingsView(settings), http.StatusOK)
}

func (s *Server) startMonitoring(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.StartMonitoring(r.Context(), currentUser(r).ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, newSessionView(&sess), http.StatusCreated)
}

func (s *Server) stopMonitoring(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.StopMonitoring(r.Context(), currentUser(r).ID)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, newSessionView(&sess), http.StatusOK)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, newStatusView(s.Manager.Status(currentUser(r).ID)), http.StatusOK)
}

func (s *Server) pushSignal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EyesClosed   bool       `json:"eyes_closed"`
		PhoneVisible bool       `json:"phone_visible"`
		PersonCount  *int       `json:"person_count"`
		Timestamp    *time.Time `json:"timestamp"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sig := domain.Signal{
		EyesClosed:   req.EyesClosed,
		PhoneVisible: req.PhoneVisible,
		PersonCount:  1,
	}
	if req.PersonCount != nil {
		if *req.PersonCount < 0 {
			respondError(w, "person_count must not be negative", http.StatusBadRequest)
			return
		}
		sig.PersonCount = *req.PersonCount
	}
	if req.Timestamp != nil {
		sig.At = *req.Timestamp
	}

	ctx, cancel := context.WithTimeout(r.Context(), pushTimeout)
	defer cancel()

	if err := s.Hub.Push(ctx, currentUser(r).ID, sig); err != nil {
		respondErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) signalUnavailable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	// body is optional
	_ = json.NewDecoder(r.Body).Decode(&req)

	var reason error
	if req.Reason != "" {
		reason = errors.New(req.Reason)
	}

	if err := s.Hub.Fail(currentUser(r).ID, reason); err != nil {
		respondErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) dashboardData(w http.ResponseWriter, r *http.Request) {
	window, err := stats.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	d, err := s.Stats.Dashboard(r.Context(), currentUser(r).ID, window.Since(s.Clock.Now()))
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, newDashboardView(d), http.StatusOK)
}

func (s *Server) comparisonData(w http.ResponseWriter, r *http.Request) {
	window, err := stats.ParseWindow(r.URL.Query().Get("window"))
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := s.Stats.Comparison(r.Context(), window.Since(s.Clock.Now()))
	if err != nil {
		respondErr(w, r, err)
		return
	}

	respondJSON(w, newComparisonView(entries), http.StatusOK)
}

func (s *Server) resetUserData(w http.ResponseWriter, r *http.Request) {
	if err := s.Accounts.Reset(r.Context(), currentUser(r).ID); err != nil {
		respondErr(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
