// Package organizer turns one pasted WhatsApp dump into organized text by
// validating the request, building the prompt, calling the configured model
// and recording the run.
package organizer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"waorganizer/internal/config"
	"waorganizer/internal/domain"
	"waorganizer/internal/integrations/llm"
	"waorganizer/internal/msgcount"
	"waorganizer/internal/prompt"
	"waorganizer/internal/storage/sqlite"
	"waorganizer/internal/summary"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrEmptyInput      = errors.New("input text is empty")
	ErrMissingAPIKey   = errors.New("API key is not set")
	ErrMissingEndpoint = errors.New("API endpoint is not set")
	// ErrProcessingFailed wraps every provider-side failure: transport,
	// non-2xx status, malformed shape or empty text.
	ErrProcessingFailed = errors.New("processing failed")
)

// Generator is the slice of the llm client the service needs.
type Generator interface {
	Generate(ctx context.Context, settings domain.Settings, req llm.Request) (llm.Response, error)
	Model(settings domain.Settings) string
}

type Request struct {
	SessionID string
	Text      string
	Options   domain.ProcessingOptions
	Settings  domain.Settings
	// Signature is recorded with the run when the caller tracks one.
	Signature string
}

type Result struct {
	Output            string
	Summary           string
	EstimatedMessages int
	RunID             string
}

// Combined is the text used for copy and download.
func (r Result) Combined() string {
	return summary.Combined(r.Output, r.Summary)
}

type Service struct {
	gen      Generator
	db       *sql.DB
	provider string
	base     string
	count    func(string) int
	now      func() time.Time
}

// NewService wires the service. db may be nil, in which case runs are not
// recorded.
func NewService(cfg config.Config, db *sql.DB, gen Generator) *Service {
	return &Service{
		gen:      gen,
		db:       db,
		provider: cfg.LLMProvider,
		base:     prompt.LoadBase(cfg.LLMPromptPath),
		count:    msgcount.ForMode(cfg.CounterMode),
		now:      time.Now,
	}
}

// CountMessages is the local block estimate shown next to the input.
func (s *Service) CountMessages(text string) int {
	return s.count(text)
}

// Validate checks the request fields in the order the user sees them.
func Validate(text string, settings domain.Settings) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	return validateSettings(settings)
}

func validateSettings(settings domain.Settings) error {
	if strings.TrimSpace(settings.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if strings.TrimSpace(settings.Endpoint) == "" {
		return ErrMissingEndpoint
	}
	return nil
}

// IsValidation reports whether err means the request was never attempted.
func IsValidation(err error) bool {
	return errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrMissingAPIKey) || errors.Is(err, ErrMissingEndpoint)
}

func (s *Service) Process(ctx context.Context, trigger domain.Trigger, req Request) (Result, error) {
	if err := Validate(req.Text, req.Settings); err != nil {
		log.Printf("organizer %s rejected session=%s: %v", trigger, req.SessionID, err)
		return Result{}, err
	}

	start := s.now()
	estimate := s.count(req.Text)
	log.Printf("organizer %s start session=%s input_chars=%d estimated_messages=%d sort=%s merge=%t ids_only=%t",
		trigger, req.SessionID, len(req.Text), estimate, req.Options.SortBy, req.Options.MergeDuplicates, req.Options.ShowOnlyIDs)

	full := prompt.Build(s.base, req.Options, req.Text)
	resp, err := s.gen.Generate(ctx, req.Settings, llm.Request{Prompt: full, MaxOutputTokens: llm.MaxTokensProcess})
	if err == nil && strings.TrimSpace(resp.Text) == "" {
		err = llm.ErrEmptyResponse
	}

	rec := domain.RunRecord{
		ID:                uuid.NewString(),
		SessionID:         req.SessionID,
		Trigger:           trigger,
		Signature:         req.Signature,
		InputChars:        len([]rune(req.Text)),
		EstimatedMessages: estimate,
		Provider:          s.provider,
		Model:             s.gen.Model(req.Settings),
		CreatedAt:         start.UTC(),
	}

	if err != nil {
		rec.Status = domain.RunStatusError
		rec.Error = err.Error()
		s.record(rec)
		log.Printf("organizer %s failed session=%s run=%s elapsed=%s: %v", trigger, req.SessionID, rec.ID, time.Since(start).Round(time.Millisecond), err)
		return Result{}, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}

	body, line := summary.Split(strings.TrimSpace(resp.Text))
	rec.Status = domain.RunStatusOK
	rec.Summary = line
	s.record(rec)

	log.Printf("organizer %s done session=%s run=%s output_chars=%d summary=%q elapsed=%s",
		trigger, req.SessionID, rec.ID, len(body), line, time.Since(start).Round(time.Millisecond))
	return Result{
		Output:            body,
		Summary:           line,
		EstimatedMessages: estimate,
		RunID:             rec.ID,
	}, nil
}

// CheckConnection sends a tiny probe and succeeds when at least one
// candidate comes back.
func (s *Service) CheckConnection(ctx context.Context, settings domain.Settings) error {
	if err := validateSettings(settings); err != nil {
		return err
	}
	resp, err := s.gen.Generate(ctx, settings, llm.Request{Prompt: prompt.ProbeText, MaxOutputTokens: llm.MaxTokensProbe})
	if err != nil {
		log.Printf("organizer connection check failed: %v", err)
		return fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}
	if resp.Candidates < 1 {
		return fmt.Errorf("%w: %w", ErrProcessingFailed, llm.ErrInvalidResponse)
	}
	log.Printf("organizer connection check ok candidates=%d", resp.Candidates)
	return nil
}

// History lists recent runs, newest first.
func (s *Service) History(limit int) ([]domain.RunRecord, error) {
	if s.db == nil {
		return nil, nil
	}
	return sqlite.ListRecentRuns(s.db, limit)
}

func (s *Service) record(rec domain.RunRecord) {
	if s.db == nil {
		return
	}
	if err := sqlite.InsertRun(s.db, rec); err != nil {
		log.Printf("organizer run record failed run=%s: %v", rec.ID, err)
	}
}
