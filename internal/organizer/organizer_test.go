package organizer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"waorganizer/internal/config"
	"waorganizer/internal/domain"
	"waorganizer/internal/integrations/llm"
	"waorganizer/internal/storage/sqlite"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []llm.Request
	resp     llm.Response
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, _ domain.Settings, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.resp, f.err
}

func (f *fakeGenerator) Model(domain.Settings) string { return "fake-model" }

var goodSettings = domain.Settings{APIKey: "k", Endpoint: "https://example.test/gen"}

func newTestService(t *testing.T, gen *fakeGenerator) *Service {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "organizer-test.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewService(config.Config{LLMProvider: config.ProviderGemini, CounterMode: "heuristic"}, db, gen)
}

func TestValidateOrder(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		settings domain.Settings
		want     error
	}{
		{"everything missing", "  ", domain.Settings{}, ErrEmptyInput},
		{"key missing", "Ali", domain.Settings{Endpoint: "x"}, ErrMissingAPIKey},
		{"endpoint missing", "Ali", domain.Settings{APIKey: "k", Endpoint: " "}, ErrMissingEndpoint},
		{"ok", "Ali", goodSettings, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.text, tt.settings); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestProcessValidationDoesNotCallProvider(t *testing.T) {
	gen := &fakeGenerator{}
	svc := newTestService(t, gen)

	_, err := svc.Process(context.Background(), domain.TriggerManual, Request{Text: "Ali", Settings: domain.Settings{Endpoint: "x"}})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if len(gen.requests) != 0 {
		t.Fatalf("provider should not be called, got %d requests", len(gen.requests))
	}
	runs, _ := svc.History(10)
	if len(runs) != 0 {
		t.Fatalf("validation failures should not be recorded, got %d runs", len(runs))
	}
}

func TestProcessSuccess(t *testing.T) {
	gen := &fakeGenerator{resp: llm.Response{Candidates: 1, Text: "\n  الاسم: Ali\nالايدي: 123\n\nعدد الرسائل المحللة : ٢\n"}}
	svc := newTestService(t, gen)

	opts := domain.ProcessingOptions{SortBy: domain.SortAgency, MergeDuplicates: true}
	res, err := svc.Process(context.Background(), domain.TriggerManual, Request{
		SessionID: "s1",
		Text:      "Ali\nDamascus\n123456\n\nSara\nAleppo\n654321",
		Options:   opts,
		Settings:  goodSettings,
		Signature: "sig-1",
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Output != "الاسم: Ali\nالايدي: 123" {
		t.Fatalf("unexpected output %q", res.Output)
	}
	if res.Summary != "عدد الرسائل المحللة : 2" {
		t.Fatalf("unexpected summary %q", res.Summary)
	}
	if res.EstimatedMessages != 2 {
		t.Fatalf("expected estimate 2, got %d", res.EstimatedMessages)
	}
	if res.Combined() != "الاسم: Ali\nالايدي: 123\n\nعدد الرسائل المحللة : 2" {
		t.Fatalf("unexpected combined text %q", res.Combined())
	}

	if len(gen.requests) != 1 {
		t.Fatalf("expected one provider request, got %d", len(gen.requests))
	}
	req := gen.requests[0]
	if req.MaxOutputTokens != llm.MaxTokensProcess {
		t.Fatalf("unexpected max tokens %d", req.MaxOutputTokens)
	}
	if !strings.HasSuffix(req.Prompt, "النص المراد معالجته:\nAli\nDamascus\n123456\n\nSara\nAleppo\n654321") {
		t.Fatalf("prompt should end with the pasted text, got tail %q", req.Prompt[len(req.Prompt)-80:])
	}
	if !strings.Contains(req.Prompt, "حسب اسم الوكالة") {
		t.Fatal("prompt should carry the sort clause")
	}

	runs, err := svc.History(5)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != res.RunID || runs[0].Status != domain.RunStatusOK || runs[0].Signature != "sig-1" || runs[0].Model != "fake-model" {
		t.Fatalf("unexpected run history: %+v", runs)
	}
}

func TestProcessProviderFailures(t *testing.T) {
	tests := []struct {
		name  string
		resp  llm.Response
		err   error
		cause error
	}{
		{"status error", llm.Response{}, &llm.StatusError{Provider: "gemini", StatusCode: 500}, nil},
		{"invalid shape", llm.Response{}, llm.ErrInvalidResponse, llm.ErrInvalidResponse},
		{"blank text", llm.Response{Candidates: 1, Text: " \n "}, nil, llm.ErrEmptyResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, &fakeGenerator{resp: tt.resp, err: tt.err})
			_, err := svc.Process(context.Background(), domain.TriggerAuto, Request{Text: "Ali", Settings: goodSettings})
			if !errors.Is(err, ErrProcessingFailed) {
				t.Fatalf("expected ErrProcessingFailed, got %v", err)
			}
			if tt.cause != nil && !errors.Is(err, tt.cause) {
				t.Fatalf("expected cause %v, got %v", tt.cause, err)
			}
			var se *llm.StatusError
			if tt.err != nil && tt.cause == nil && !errors.As(err, &se) {
				t.Fatalf("expected StatusError in chain, got %v", err)
			}
			runs, _ := svc.History(5)
			if len(runs) != 1 || runs[0].Status != domain.RunStatusError || runs[0].Trigger != domain.TriggerAuto {
				t.Fatalf("expected one failed auto run, got %+v", runs)
			}
		})
	}
}

func TestCheckConnection(t *testing.T) {
	gen := &fakeGenerator{resp: llm.Response{Candidates: 1, Text: "أهلاً"}}
	svc := newTestService(t, gen)

	if err := svc.CheckConnection(context.Background(), goodSettings); err != nil {
		t.Fatalf("CheckConnection failed: %v", err)
	}
	if len(gen.requests) != 1 || gen.requests[0].Prompt != "مرحبا" || gen.requests[0].MaxOutputTokens != llm.MaxTokensProbe {
		t.Fatalf("unexpected probe: %+v", gen.requests)
	}

	if err := svc.CheckConnection(context.Background(), domain.Settings{APIKey: "k"}); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("expected ErrMissingEndpoint, got %v", err)
	}

	gen.resp = llm.Response{}
	if err := svc.CheckConnection(context.Background(), goodSettings); !errors.Is(err, ErrProcessingFailed) {
		t.Fatalf("expected failure with zero candidates, got %v", err)
	}
}

func TestNotice(t *testing.T) {
	failed := errors.Join(ErrProcessingFailed, llm.ErrInvalidResponse)
	tests := []struct {
		name        string
		trigger     domain.Trigger
		err         error
		wantShow    bool
		wantTitle   string
		wantMessage string
		destructive bool
	}{
		{"manual success", domain.TriggerManual, nil, true, "تم بنجاح", "تم معالجة الرسائل وترتيبها", false},
		{"auto success", domain.TriggerAuto, nil, false, "", "", false},
		{"manual empty", domain.TriggerManual, ErrEmptyInput, true, "خطأ", "يرجى إدخال النص المراد معالجته", true},
		{"manual key", domain.TriggerManual, ErrMissingAPIKey, true, "خطأ", "يرجى إدخال مفتاح API الخاص بـ Gemini", true},
		{"manual endpoint", domain.TriggerManual, ErrMissingEndpoint, true, "خطأ", "يرجى إدخال رابط واجهة Gemini API", true},
		{"auto validation", domain.TriggerAuto, ErrMissingAPIKey, false, "", "", false},
		{"manual failure", domain.TriggerManual, failed, true, "خطأ في المعالجة", "حدث خطأ أثناء معالجة الرسائل. يرجى المحاولة مرة أخرى.", true},
		{"auto failure", domain.TriggerAuto, failed, true, "خطأ في المعالجة", "فشل تحديث الخيارات تلقائياً. حاول المعالجة يدوياً.", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, show := Notice(tt.trigger, tt.err)
			if show != tt.wantShow {
				t.Fatalf("show = %v, want %v", show, tt.wantShow)
			}
			if got.Title != tt.wantTitle || got.Message != tt.wantMessage || got.Destructive != tt.destructive {
				t.Fatalf("unexpected notice %+v", got)
			}
		})
	}
}

func TestConnectionNotice(t *testing.T) {
	if n := ConnectionNotice(nil); n.Title != "متصل" || n.Destructive {
		t.Fatalf("unexpected ok notice %+v", n)
	}
	if n := ConnectionNotice(ErrProcessingFailed); n.Title != "خطأ في الاتصال" || !n.Destructive {
		t.Fatalf("unexpected failure notice %+v", n)
	}
	if n := ConnectionNotice(ErrMissingAPIKey); n.Title != "خطأ" {
		t.Fatalf("unexpected validation notice %+v", n)
	}
}
