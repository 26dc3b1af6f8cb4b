package slackbot

import (
	"fmt"
	"strings"
	"unicode"

	"waorganizer/internal/domain"
	"waorganizer/internal/organizer"
)

const (
	usageOrganize = "الاستخدام: `/organize [--sort=original|agency|location|amount] [--merge] [--ids] <النص>`"
	usageOptions  = "الاستخدام: `/organize-options sort=original|agency|location|amount merge=on|off ids=on|off`"
)

// parseOrganizeArgs reads leading --flags and returns the remaining text
// with its line breaks intact. Flags override the session options for this
// and later runs.
func parseOrganizeArgs(text string, current domain.ProcessingOptions) (domain.ProcessingOptions, string, error) {
	opts := current
	rest := strings.TrimLeftFunc(text, unicode.IsSpace)
	for isFlag(rest) {
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			end = len(rest)
		}
		flag := rest[2:end]
		rest = strings.TrimLeftFunc(rest[end:], unicode.IsSpace)

		name, value, hasValue := strings.Cut(flag, "=")
		switch strings.ToLower(name) {
		case "sort":
			sortBy, err := domain.ParseSortBy(value)
			if err != nil {
				return current, "", err
			}
			opts.SortBy = sortBy
		case "merge":
			on, err := parseSwitch(value, hasValue)
			if err != nil {
				return current, "", err
			}
			opts.MergeDuplicates = on
		case "ids":
			on, err := parseSwitch(value, hasValue)
			if err != nil {
				return current, "", err
			}
			opts.ShowOnlyIDs = on
		default:
			return current, "", fmt.Errorf("unknown flag --%s", name)
		}
	}
	return opts, rest, nil
}

// isFlag rejects separator lines such as "-----" that open a pasted dump.
func isFlag(s string) bool {
	return len(s) > 2 && strings.HasPrefix(s, "--") && unicode.IsLetter(rune(s[2]))
}

// parseOptionArgs applies key=value pairs to the current options.
func parseOptionArgs(text string, current domain.ProcessingOptions) (domain.ProcessingOptions, error) {
	opts := current
	for _, field := range strings.Fields(text) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return current, fmt.Errorf("expected key=value, got %q", field)
		}
		switch strings.ToLower(key) {
		case "sort":
			sortBy, err := domain.ParseSortBy(value)
			if err != nil {
				return current, err
			}
			opts.SortBy = sortBy
		case "merge":
			on, err := parseSwitch(value, true)
			if err != nil {
				return current, err
			}
			opts.MergeDuplicates = on
		case "ids":
			on, err := parseSwitch(value, true)
			if err != nil {
				return current, err
			}
			opts.ShowOnlyIDs = on
		default:
			return current, fmt.Errorf("unknown option %q", key)
		}
	}
	return opts, nil
}

func parseSwitch(value string, hasValue bool) (bool, error) {
	if !hasValue {
		return true, nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch value %q (want on or off)", value)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func describeOptions(opts domain.ProcessingOptions) string {
	return fmt.Sprintf("sort=%s merge=%s ids=%s", opts.SortBy, onOff(opts.MergeDuplicates), onOff(opts.ShowOnlyIDs))
}

func formatNotice(n organizer.Notification) string {
	icon := ":white_check_mark:"
	if n.Destructive {
		icon = ":warning:"
	}
	return fmt.Sprintf("%s *%s*\n%s", icon, n.Title, n.Message)
}

func triggerLabel(trigger domain.Trigger) string {
	if trigger == domain.TriggerAuto {
		return "تحديث تلقائي"
	}
	return "معالجة يدوية"
}

func helpText() string {
	lines := []string{
		"*منظم رسائل واتساب*",
		"",
		"`/organize [--sort=x] [--merge] [--ids] <النص>`: ترتيب الرسائل الملصقة.",
		"`/organize-options sort=x merge=on|off ids=on|off`: تغيير الخيارات وإعادة المعالجة تلقائياً.",
		"`/organize-count <النص>`: عدد الرسائل التقريبي.",
		"`/organize-check`: التحقق من الاتصال مع واجهة النموذج.",
		"`/organize-clear`: مسح النص والنتيجة.",
		"`/organize-help`: عرض هذه المساعدة.",
	}
	return strings.Join(lines, "\n")
}
