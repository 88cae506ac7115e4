// Package server provides the HTTP server and handlers.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/bryan-buckman/groupsfeed/internal/cache"
	"github.com/bryan-buckman/groupsfeed/internal/logger"
	"github.com/bryan-buckman/groupsfeed/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templatesFS embed.FS

const rssContentType = "application/rss+xml; charset=utf-8"

// FeedCache is the part of the cache controller the handlers use.
type FeedCache interface {
	Feed(ctx context.Context) (*model.Document, error)
	TriggerRefresh() bool
	Status() cache.Status
}

// Server is the main HTTP server.
type Server struct {
	cache     FeedCache
	title     string
	router    chi.Router
	templates *template.Template
	http      *http.Server
}

// New creates a server listening on addr once Start is called.
func New(c FeedCache, addr, title string) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"timeAgo": timeAgo,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		cache:     c,
		title:     title,
		templates: tmpl,
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	r.Get("/", s.handleHome)
	r.Get("/feed.xml", s.handleFeed)
	r.Get("/refresh", s.handleRefresh)
	r.Post("/refresh", s.handleRefresh)
	r.Get("/status", s.handleStatus)

	s.router = r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	logger.Infof("[server] listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	st := s.cache.Status()
	data := map[string]interface{}{
		"Title":           s.title,
		"Cached":          st.Cached,
		"LastUpdated":     st.LastUpdated,
		"Topics":          st.Topics,
		"Refreshing":      st.Refreshing,
		"LastError":       st.LastError,
		"IntervalMinutes": int(st.RefreshInterval / time.Minute),
	}
	s.render(w, "index.html", data)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	doc, err := s.cache.Feed(r.Context())
	if err != nil {
		logger.Errorf("[server] feed unavailable: %v", err)
		http.Error(w, "Feed unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", rssContentType)
	if !doc.GeneratedAt.IsZero() {
		w.Header().Set("Last-Modified", doc.GeneratedAt.UTC().Format(http.TimeFormat))
	}
	w.Write(doc.XML)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.cache.TriggerRefresh() {
		logger.Infof("[server] manual refresh requested")
	} else {
		logger.Infof("[server] manual refresh joined the running one")
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "refreshing",
		"message": "Feed refresh started in background",
	})
}

type statusResponse struct {
	Status                 string  `json:"status"`
	FeedCached             bool    `json:"feed_cached"`
	LastUpdated            *string `json:"last_updated"`
	RefreshIntervalMinutes int     `json:"refresh_interval_minutes"`
	Refreshing             bool    `json:"refreshing"`
	GenerationID           string  `json:"generation_id,omitempty"`
	Topics                 int     `json:"topics"`
	LastAttempt            *string `json:"last_attempt,omitempty"`
	LastError              string  `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.cache.Status()
	writeJSON(w, http.StatusOK, statusResponse{
		Status:                 "running",
		FeedCached:             st.Cached,
		LastUpdated:            isoTime(st.LastUpdated),
		RefreshIntervalMinutes: int(st.RefreshInterval / time.Minute),
		Refreshing:             st.Refreshing,
		GenerationID:           st.GenerationID,
		Topics:                 st.Topics,
		LastAttempt:            isoTime(st.LastAttempt),
		LastError:              st.LastError,
	})
}

// --- Helpers ---

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.Z.Info("[server] request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		logger.Errorf("[server] template error: %v", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warnf("[server] encode response: %v", err)
	}
}

func isoTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
