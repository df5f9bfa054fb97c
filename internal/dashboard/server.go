// Package dashboard serves a read-only JSON API over already-flushed
// storage files. It is a concurrent reader and tolerates the sampler
// appending to the current month's file.
package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/classify"
	"github.com/WWWonderer/activity-logger/internal/domain"
)

// SessionReader is the slice of the store the dashboard needs.
type SessionReader interface {
	SessionsBetween(from, to time.Time) ([]domain.Session, error)
}

// Server exposes flushed sessions over HTTP.
type Server struct {
	store  SessionReader
	logger *zap.Logger
	srv    *http.Server
}

// NewServer creates a dashboard server listening on addr.
func NewServer(addr string, store SessionReader, logger *zap.Logger) *Server {
	s := &Server{
		store:  store,
		logger: logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/summary", s.handleSummary)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSessions returns the sessions overlapping one calendar day,
// clipped at midnight for display.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sessions, err := s.daySessions(day)
	if err != nil {
		s.logger.Warn("failed to read sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read sessions"))
		return
	}

	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toJSON(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"date":     day.Format("2006-01-02"),
		"sessions": out,
	})
}

// handleSummary returns per-category and productive totals for one day.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	day, err := parseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sessions, err := s.daySessions(day)
	if err != nil {
		s.logger.Warn("failed to read sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to read sessions"))
		return
	}

	byCategory := make(map[string]float64)
	var total, productive float64
	for _, sess := range sessions {
		byCategory[sess.Category] += sess.DurationSec
		if sess.Category != classify.CategoryIdle {
			total += sess.DurationSec
			if sess.IsProductive {
				productive += sess.DurationSec
			}
		}
	}

	categories := make([]categorySummary, 0, len(byCategory))
	for name, secs := range byCategory {
		categories = append(categories, categorySummary{Category: name, DurationSec: secs})
	}
	sort.Slice(categories, func(i, j int) bool {
		return categories[i].DurationSec > categories[j].DurationSec
	})

	writeJSON(w, http.StatusOK, daySummary{
		Date:          day.Format("2006-01-02"),
		TotalSec:      total,
		ProductiveSec: productive,
		Categories:    categories,
	})
}

// daySessions reads sessions overlapping the day and splits the ones
// crossing midnight so each returned interval lies within the day.
func (s *Server) daySessions(day time.Time) ([]domain.Session, error) {
	dayStart := day
	dayEnd := day.AddDate(0, 0, 1)

	sessions, err := s.store.SessionsBetween(dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Session, 0, len(sessions))
	for _, sess := range sessions {
		clipped, ok := clip(sess, dayStart, dayEnd)
		if ok {
			out = append(out, clipped)
		}
	}
	return out, nil
}

// clip bounds a session to [from, to), recomputing the displayed
// duration. Stored rows are never modified; this is display-only.
func clip(sess domain.Session, from, to time.Time) (domain.Session, bool) {
	if !sess.EndTime.After(from) || !sess.StartTime.Before(to) {
		return domain.Session{}, false
	}
	if sess.StartTime.Before(from) {
		sess.StartTime = from
	}
	if sess.EndTime.After(to) {
		sess.EndTime = to
	}
	sess.DurationSec = sess.EndTime.Sub(sess.StartTime).Seconds()
	return sess, true
}

type sessionJSON struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationSec  float64   `json:"duration_sec"`
	App          string    `json:"app"`
	Title        string    `json:"title"`
	URL          string    `json:"url,omitempty"`
	Category     string    `json:"category"`
	IsProductive bool      `json:"is_productive"`
	DeviceID     string    `json:"device_id"`
}

type categorySummary struct {
	Category    string  `json:"category"`
	DurationSec float64 `json:"duration_sec"`
}

type daySummary struct {
	Date          string            `json:"date"`
	TotalSec      float64           `json:"total_sec"`
	ProductiveSec float64           `json:"productive_sec"`
	Categories    []categorySummary `json:"categories"`
}

func toJSON(s domain.Session) sessionJSON {
	return sessionJSON{
		StartTime:    s.StartTime,
		EndTime:      s.EndTime,
		DurationSec:  s.DurationSec,
		App:          s.App,
		Title:        s.Title,
		URL:          s.URL,
		Category:     s.Category,
		IsProductive: s.IsProductive,
		DeviceID:     s.DeviceID,
	}
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		now := time.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()), nil
	}
	day, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, want YYYY-MM-DD", raw)
	}
	return day, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = sonic.ConfigDefault.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
