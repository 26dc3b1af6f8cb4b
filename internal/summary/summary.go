// Package summary separates the model's "messages analyzed: N" footer from
// the organized body and builds the text used for copy and download.
package summary

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var summaryPattern = regexp.MustCompile(`عدد الرسائل المحللة\s*:\s*[0-9٠-٩۰-۹]+`)

// NormalizeDigits maps Arabic-Indic and Extended Arabic-Indic digits to ASCII.
func NormalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '٠' && r <= '٩':
			return '0' + (r - '٠')
		case r >= '۰' && r <= '۹':
			return '0' + (r - '۰')
		}
		return r
	}, s)
}

// Split returns the body without the summary line, and the summary line with
// ASCII digits. The last match wins when the model repeats the footer.
func Split(text string) (string, string) {
	locs := summaryPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return strings.TrimRight(text, " \t\r\n"), ""
	}
	loc := locs[len(locs)-1]
	line := NormalizeDigits(strings.TrimSpace(text[loc[0]:loc[1]]))
	body := text[:loc[0]] + text[loc[1]:]
	return strings.TrimRight(body, " \t\r\n"), line
}

// Combined is the text placed on the clipboard or in the export file.
func Combined(output, line string) string {
	if line == "" {
		return output
	}
	return strings.TrimSpace(output + "\n\n" + line)
}

func ExportFileName(t time.Time) string {
	return fmt.Sprintf("whatsapp-organized-%s.txt", t.UTC().Format("2006-01-02"))
}

// WriteExport writes text to dir under the export file name for t.
func WriteExport(dir string, t time.Time, text string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating export dir: %w", err)
	}
	path := filepath.Join(dir, ExportFileName(t))
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing export file: %w", err)
	}
	return path, nil
}
