package web

import (
	"context"
	"errors"
	"strings"
	"sync"
	"unicode/utf8"

	"waorganizer/internal/autorun"
	"waorganizer/internal/domain"
	"waorganizer/internal/organizer"
	"waorganizer/internal/settings"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	connectionUnknown      = "unknown"
	connectionConnected    = "connected"
	connectionDisconnected = "disconnected"

	statusProcessing = "processing"
	statusIdle       = "idle"
)

// clientMessage types: input, options, settings, process, check, clear.
type clientMessage struct {
	Type     string                    `json:"type"`
	Text     string                    `json:"text,omitempty"`
	Options  *domain.ProcessingOptions `json:"options,omitempty"`
	Settings *settingsUpdate           `json:"settings,omitempty"`
}

// settingsUpdate carries only the fields the page changed.
type settingsUpdate struct {
	APIKey   *string `json:"apiKey,omitempty"`
	Endpoint *string `json:"apiEndpoint,omitempty"`
}

// settingsView is what the page sees of the stored settings. The key never
// leaves the server.
type settingsView struct {
	APIKeySet    bool   `json:"apiKeySet"`
	APIKeyMasked string `json:"apiKeyMasked"`
	Endpoint     string `json:"apiEndpoint"`
}

func newSettingsView(v domain.Settings) settingsView {
	return settingsView{
		APIKeySet:    strings.TrimSpace(v.APIKey) != "",
		APIKeyMasked: settings.MaskKey(v.APIKey),
		Endpoint:     v.Endpoint,
	}
}

// serverMessage types: state, result, status, toast, count.
type serverMessage struct {
	Type       string                  `json:"type"`
	Session    string                  `json:"session,omitempty"`
	State      *sessionState           `json:"state,omitempty"`
	Result     *resultPayload          `json:"result,omitempty"`
	Status     string                  `json:"status,omitempty"`
	Connection string                  `json:"connection,omitempty"`
	Toast      *organizer.Notification `json:"toast,omitempty"`
	Counts     *counts                 `json:"counts,omitempty"`
}

type sessionState struct {
	Input      string                   `json:"input"`
	Options    domain.ProcessingOptions `json:"options"`
	Settings   settingsView             `json:"settings"`
	Output     string                   `json:"output"`
	Summary    string                   `json:"summary"`
	Connection string                   `json:"connection"`
	Processing bool                     `json:"processing"`
	Counts     counts                   `json:"counts"`
}

type resultPayload struct {
	Output            string `json:"output"`
	Summary           string `json:"summary"`
	EstimatedMessages int    `json:"estimatedMessages"`
	RunID             string `json:"runId"`
}

type counts struct {
	Messages    int `json:"messages"`
	InputChars  int `json:"inputChars"`
	OutputChars int `json:"outputChars"`
}

type session struct {
	id     string
	ctx    context.Context
	server *Server
	runner *autorun.Runner

	writeMu sync.Mutex
	conn    *websocket.Conn

	// tasks tracks process and check goroutines started by handle.
	tasks sync.WaitGroup

	mu         sync.Mutex
	input      string
	options    domain.ProcessingOptions
	settings   domain.Settings
	output     string
	summary    string
	connection string
	// epoch changes on every clear; results from an older epoch are dropped.
	epoch uint64
}

func newSession(ctx context.Context, id string, conn *websocket.Conn, srv *Server) *session {
	sess := &session{
		id:         id,
		ctx:        ctx,
		server:     srv,
		conn:       conn,
		options:    srv.cfg.DefaultOptions(),
		settings:   srv.store.Load(srv.defaults),
		connection: connectionUnknown,
	}
	sess.runner = autorun.New(ctx, sess.run)
	return sess
}

func (s *session) send(msg serverMessage) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(msg); err != nil {
		log.Printf("web websocket write error session=%s type=%s: %v", s.id, msg.Type, err)
	}
}

func (s *session) handle(msg clientMessage) {
	switch msg.Type {
	case "input":
		s.mu.Lock()
		s.input = msg.Text
		s.mu.Unlock()
		s.sendCounts()
		s.runner.Changed(s.snapshot())
	case "options":
		if msg.Options == nil {
			return
		}
		opts := *msg.Options
		if _, err := domain.ParseSortBy(string(opts.SortBy)); err != nil {
			opts.SortBy = domain.SortOriginal
		}
		s.mu.Lock()
		s.options = opts
		s.mu.Unlock()
		s.runner.Changed(s.snapshot())
	case "settings":
		if msg.Settings == nil {
			return
		}
		s.updateSettings(*msg.Settings)
		s.runner.Changed(s.snapshot())
	case "process":
		s.goTask(s.processManual)
	case "check":
		s.goTask(s.checkConnection)
	case "clear":
		s.clear()
	default:
		log.Printf("web unknown message session=%s type=%q", s.id, msg.Type)
	}
}

func (s *session) goTask(fn func()) {
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}

// wait blocks until every run and task of the session has returned.
func (s *session) wait() {
	s.tasks.Wait()
	s.runner.Wait()
}

func (s *session) updateSettings(update settingsUpdate) {
	s.mu.Lock()
	prev := s.settings
	next := prev
	if update.APIKey != nil {
		next.APIKey = *update.APIKey
	}
	if update.Endpoint != nil {
		next.Endpoint = *update.Endpoint
	}
	s.settings = next
	s.mu.Unlock()

	if next.APIKey != prev.APIKey {
		if err := s.server.store.SetAPIKey(next.APIKey); err != nil {
			log.Printf("web settings save failed key=api_key: %v", err)
		}
	}
	if next.Endpoint != prev.Endpoint {
		if err := s.server.store.SetEndpoint(next.Endpoint); err != nil {
			log.Printf("web settings save failed key=endpoint: %v", err)
		}
	}
}

func (s *session) snapshot() autorun.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return autorun.Snapshot{Input: s.input, Options: s.options, Settings: s.settings}
}

func (s *session) combined() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.output == "" {
		return ""
	}
	return organizer.Result{Output: s.output, Summary: s.summary}.Combined()
}

func (s *session) processManual() {
	err := s.runner.RunManual(s.ctx, s.snapshot())
	if errors.Is(err, autorun.ErrBusy) {
		log.Printf("web process ignored session=%s: %v", s.id, err)
	}
}

// run is the runner callback shared by manual and auto triggers.
func (s *session) run(ctx context.Context, trigger domain.Trigger, snap autorun.Snapshot, signature string) error {
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	s.send(serverMessage{Type: "status", Status: statusProcessing})
	defer s.send(serverMessage{Type: "status", Status: statusIdle})

	res, err := s.server.svc.Process(ctx, trigger, organizer.Request{
		SessionID: s.id,
		Text:      snap.Input,
		Options:   snap.Options,
		Settings:  snap.Settings,
		Signature: signature,
	})

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		log.Printf("web result dropped session=%s trigger=%s: session cleared during the run", s.id, trigger)
		return err
	}
	var payload *resultPayload
	switch {
	case err == nil:
		s.output = res.Output
		s.summary = res.Summary
		payload = &resultPayload{
			Output:            res.Output,
			Summary:           res.Summary,
			EstimatedMessages: res.EstimatedMessages,
			RunID:             res.RunID,
		}
	case !organizer.IsValidation(err):
		// A provider failure keeps the output but drops the summary line.
		s.summary = ""
		payload = &resultPayload{Output: s.output}
	}
	s.mu.Unlock()

	if payload != nil {
		s.send(serverMessage{Type: "result", Result: payload})
	}
	if err == nil {
		s.sendCounts()
	}
	if notice, ok := organizer.Notice(trigger, err); ok {
		s.send(serverMessage{Type: "toast", Toast: &notice})
	}
	return err
}

func (s *session) checkConnection() {
	s.mu.Lock()
	current := s.settings
	s.mu.Unlock()

	err := s.server.svc.CheckConnection(s.ctx, current)
	status := connectionConnected
	if err != nil {
		status = connectionDisconnected
	}
	s.mu.Lock()
	s.connection = status
	s.mu.Unlock()

	notice := organizer.ConnectionNotice(err)
	s.send(serverMessage{Type: "status", Connection: status})
	s.send(serverMessage{Type: "toast", Toast: &notice})
}

func (s *session) clear() {
	s.runner.Reset()
	s.mu.Lock()
	s.epoch++
	s.input = ""
	s.output = ""
	s.summary = ""
	s.connection = connectionUnknown
	s.mu.Unlock()
	s.sendState()
}

func (s *session) currentCounts() counts {
	s.mu.Lock()
	input, output := s.input, s.output
	s.mu.Unlock()
	return counts{
		Messages:    s.server.svc.CountMessages(input),
		InputChars:  utf8.RuneCountInString(input),
		OutputChars: utf8.RuneCountInString(output),
	}
}

func (s *session) sendCounts() {
	c := s.currentCounts()
	s.send(serverMessage{Type: "count", Counts: &c})
}

func (s *session) sendState() {
	c := s.currentCounts()
	s.mu.Lock()
	state := sessionState{
		Input:      s.input,
		Options:    s.options,
		Settings:   newSettingsView(s.settings),
		Output:     s.output,
		Summary:    s.summary,
		Connection: s.connection,
		Counts:     c,
	}
	s.mu.Unlock()
	state.Processing = s.runner.Busy()
	s.send(serverMessage{Type: "state", Session: s.id, State: &state})
}
