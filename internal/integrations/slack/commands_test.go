package slackbot

import (
	"strings"
	"testing"

	"waorganizer/internal/domain"
	"waorganizer/internal/organizer"
)

func TestParseOrganizeArgs(t *testing.T) {
	base := domain.DefaultOptions()
	tests := []struct {
		name     string
		input    string
		wantOpts domain.ProcessingOptions
		wantBody string
		wantErr  bool
	}{
		{
			name:     "plain text keeps line breaks",
			input:    "Ali\nDamascus\n\nSara",
			wantOpts: base,
			wantBody: "Ali\nDamascus\n\nSara",
		},
		{
			name:     "flags before text",
			input:    "--sort=agency --merge --ids=off\nAli\n123",
			wantOpts: domain.ProcessingOptions{SortBy: domain.SortAgency, MergeDuplicates: true},
			wantBody: "Ali\n123",
		},
		{
			name:     "ids switch on",
			input:    "  --ids Ali",
			wantOpts: domain.ProcessingOptions{SortBy: domain.SortOriginal, ShowOnlyIDs: true},
			wantBody: "Ali",
		},
		{
			name:     "flags only",
			input:    "--sort=amount",
			wantOpts: domain.ProcessingOptions{SortBy: domain.SortAmount},
			wantBody: "",
		},
		{
			name:     "separator line is text",
			input:    "-----\nAli",
			wantOpts: base,
			wantBody: "-----\nAli",
		},
		{name: "bad sort", input: "--sort=size Ali", wantErr: true},
		{name: "unknown flag", input: "--fast Ali", wantErr: true},
		{name: "bad switch", input: "--merge=maybe Ali", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, body, err := parseOrganizeArgs(tt.input, base)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				if opts != base {
					t.Fatalf("options should be unchanged on error, got %+v", opts)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opts != tt.wantOpts {
				t.Fatalf("options = %+v, want %+v", opts, tt.wantOpts)
			}
			if body != tt.wantBody {
				t.Fatalf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestParseOptionArgs(t *testing.T) {
	current := domain.ProcessingOptions{SortBy: domain.SortLocation, MergeDuplicates: true}

	got, err := parseOptionArgs("sort=amount ids=on", current)
	if err != nil {
		t.Fatalf("parseOptionArgs failed: %v", err)
	}
	want := domain.ProcessingOptions{SortBy: domain.SortAmount, MergeDuplicates: true, ShowOnlyIDs: true}
	if got != want {
		t.Fatalf("options = %+v, want %+v", got, want)
	}

	got, err = parseOptionArgs("merge=off", current)
	if err != nil || got.MergeDuplicates || got.SortBy != domain.SortLocation {
		t.Fatalf("merge=off should only clear merge, got %+v err=%v", got, err)
	}

	for _, bad := range []string{"merge", "color=red", "sort=size", "ids=maybe"} {
		if _, err := parseOptionArgs(bad, current); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}

	if got, err := parseOptionArgs("", current); err != nil || got != current {
		t.Fatalf("empty args should keep options, got %+v err=%v", got, err)
	}
}

func TestDescribeOptionsAndNotice(t *testing.T) {
	if got := describeOptions(domain.ProcessingOptions{SortBy: domain.SortAgency, ShowOnlyIDs: true}); got != "sort=agency merge=off ids=on" {
		t.Fatalf("unexpected description %q", got)
	}

	ok := formatNotice(organizer.Notification{Title: "تم بنجاح", Message: "تم معالجة الرسائل وترتيبها"})
	if !strings.HasPrefix(ok, ":white_check_mark: *تم بنجاح*") {
		t.Fatalf("unexpected success notice %q", ok)
	}
	bad := formatNotice(organizer.Notification{Title: "خطأ", Message: "x", Destructive: true})
	if !strings.HasPrefix(bad, ":warning:") {
		t.Fatalf("unexpected failure notice %q", bad)
	}
}

func TestHelpTextListsEveryCommand(t *testing.T) {
	help := helpText()
	for _, cmd := range []string{cmdOrganize, cmdOptions, cmdCount, cmdCheck, cmdClear, cmdHelp} {
		if !strings.Contains(help, "`"+cmd) {
			t.Fatalf("help text is missing %s", cmd)
		}
	}
}
