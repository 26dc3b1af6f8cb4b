// Package msgcount estimates how many message cards a pasted WhatsApp dump
// contains. The number is a display badge only; the organizing itself is
// done by the model.
package msgcount

import (
	"regexp"
	"strings"
)

const (
	ModeHeuristic = "heuristic"
	ModeSimple    = "simple"
)

// summaryPrefix marks the model's own "message count" footer, which is not a card.
const summaryPrefix = "عدد الرسائل"

var separatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\*{3,}$`),
	regexp.MustCompile(`^[-=]{5,}$`),
	regexp.MustCompile(`^_{5,}$`),
	regexp.MustCompile(`^المجموع\s*:?.*$`),
}

var newMessagePatterns = []*regexp.Regexp{
	// [12/3/2024, 9:41 or 12/3/24, 09:41:07
	regexp.MustCompile(`^\[?\d{1,2}/\d{1,2}/\d{2,4},\s*\d{1,2}:\d{2}(:\d{2})?`),
	regexp.MustCompile(`^\+?\d[\d\s-]{7,}`),
	regexp.MustCompile(`(?i)^(id|الايدي|ايدي)\s*:`),
	regexp.MustCompile(`^[@#]`),
	regexp.MustCompile(`^[\p{Latin}\p{Arabic}]+[:|\-]`),
}

func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

func isSeparator(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range separatorPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

func looksLikeNewMessage(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range newMessagePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// Blocks splits text into message blocks using blank lines, separator lines
// and lines that look like the first line of a new message.
func Blocks(text string) []string {
	return split(text, true)
}

// BlocksSimple splits only on blank-line runs and separator lines.
func BlocksSimple(text string) []string {
	return split(text, false)
}

func split(text string, heuristic bool) []string {
	lines := strings.Split(normalizeNewlines(text), "\n")

	var blocks []string
	var group []string
	commit := func() {
		block := strings.TrimSpace(strings.Join(group, "\n"))
		group = group[:0]
		if block == "" || strings.HasPrefix(block, summaryPrefix) {
			return
		}
		blocks = append(blocks, block)
	}

	prevSeparator := false
	for _, line := range lines {
		switch {
		case strings.TrimSpace(line) == "":
			commit()
			prevSeparator = false
		case isSeparator(line):
			commit()
			prevSeparator = true
		case heuristic && len(group) > 0 && !prevSeparator && looksLikeNewMessage(line):
			commit()
			group = append(group, line)
			prevSeparator = false
		default:
			group = append(group, line)
			prevSeparator = false
		}
	}
	commit()
	return blocks
}

// Count returns the heuristic block estimate for text. It is 0 for blank input.
func Count(text string) int {
	return len(Blocks(text))
}

// CountSimple is the blank-line/separator-only variant of Count.
func CountSimple(text string) int {
	return len(BlocksSimple(text))
}

// ForMode picks a counter by config name. Unknown names get the heuristic.
func ForMode(mode string) func(string) int {
	if strings.EqualFold(strings.TrimSpace(mode), ModeSimple) {
		return CountSimple
	}
	return Count
}
