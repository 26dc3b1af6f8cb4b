// Package web serves the browser form. Each websocket connection is one
// session with its own input, options, output and auto-rerun runner.
package web

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"waorganizer/internal/config"
	"waorganizer/internal/domain"
	"waorganizer/internal/organizer"
	"waorganizer/internal/settings"
	"waorganizer/internal/summary"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

//go:embed static/index.html
var indexHTML []byte

// CheckOrigin is left nil so gorilla rejects cross-origin handshakes.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type Server struct {
	cfg      config.Config
	svc      *organizer.Service
	store    *settings.Store
	defaults domain.Settings
	now      func() time.Time
	// base parents every session context; Run replaces it so shutdown
	// closes open websockets.
	base context.Context

	mu       sync.Mutex
	sessions map[string]*session
}

func NewServer(cfg config.Config, svc *organizer.Service, store *settings.Store) *Server {
	return &Server{
		cfg:      cfg,
		svc:      svc,
		store:    store,
		defaults: settings.Defaults(cfg),
		now:      time.Now,
		base:     context.Background(),
		sessions: make(map[string]*session),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              s.cfg.WebListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening addr=%s", s.cfg.WebListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		log.Printf("web server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web server shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(s.base)
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	sess := newSession(ctx, uuid.NewString(), conn, s)
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	log.Printf("web client connected session=%s", sess.id)

	defer func() {
		cancel()
		sess.wait()
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		log.Printf("web client disconnected session=%s", sess.id)
	}()

	sess.sendState()
	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("web websocket read error session=%s: %v", sess.id, err)
			}
			return
		}
		sess.handle(msg)
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	text := sess.combined()
	if text == "" {
		http.Error(w, "nothing to download", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", summary.ExportFileName(s.now())))
	_, _ = w.Write([]byte(text))
}
