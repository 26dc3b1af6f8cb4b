package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"waorganizer/internal/domain"

	log "github.com/sirupsen/logrus"
)

//go:embed base_prompt.txt
var defaultBase string

// ProbeText is the tiny message sent by the connection check.
const ProbeText = "مرحبا"

const inputHeader = "النص المراد معالجته:"

const maxBaseChars = 32000

var sortInstructions = map[domain.SortBy]string{
	domain.SortOriginal: "حافظ على نفس ترتيب الرسائل الأصلي دون أي تغيير.",
	domain.SortAgency:   "رتب البطاقات تصاعدياً حسب اسم الوكالة.",
	domain.SortLocation: "رتب البطاقات تصاعدياً حسب العنوان.",
	domain.SortAmount:   "رتب البطاقات حسب قيمة المبالغ من الأصغر إلى الأكبر إن وُجدت، وإن لم تتوفر مبالغ فحافظ على الترتيب الأصلي.",
}

const (
	mergeOn     = "ادمج الرسائل التي تمتلك نفس الاسم تماماً مع تجميع ايديهاتها في بطاقة واحدة مع ذكر كل ايدي في سطر مستقل."
	mergeOff    = "لا تدمج أي رسائل حتى لو تكرر الاسم."
	idsOnlyOn   = `فعّل وضع عرض الايديهات فقط: اعرض كل وكالة بالشكل "وكالة <اسم الوكالة>" يتبعها الايديهات المرتبطة بها فقط. الايديهات التي لا تعرف وكالتها تُجمع تحت "وكالة غير معروفة".`
	idsOnlyOff  = "اعرض جميع الحقول لكل رسالة كما هو موضح في القواعد، ولا تستخدم وضع عرض الايديهات فقط."
	guidanceTop = "تعليمات إضافية بناءً على خيارات المستخدم:"
)

// DefaultBase returns the built-in instruction template.
func DefaultBase() string {
	return defaultBase
}

// LoadBase reads an override template from path. An empty path or an
// unreadable file yields the built-in template.
func LoadBase(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return defaultBase
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("prompt base override skipped path=%s err=%v", path, err)
		return defaultBase
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		log.Printf("prompt base override is empty path=%s, using built-in template", path)
		return defaultBase
	}
	if len(text) > maxBaseChars {
		text = cutAtRune(text, maxBaseChars) + "\n...(truncated)"
	}
	log.Printf("prompt base override loaded path=%s chars=%d", path, len(text))
	return text
}

func OptionsGuidance(opts domain.ProcessingOptions) string {
	sortLine, ok := sortInstructions[opts.SortBy]
	if !ok {
		sortLine = sortInstructions[domain.SortOriginal]
	}
	merge := mergeOff
	if opts.MergeDuplicates {
		merge = mergeOn
	}
	ids := idsOnlyOff
	if opts.ShowOnlyIDs {
		ids = idsOnlyOn
	}
	return fmt.Sprintf("%s\n- %s\n- %s\n- %s\n", guidanceTop, sortLine, merge, ids)
}

// Build assembles the single text part sent to the model: instructions,
// option clauses, then the pasted messages.
func Build(base string, opts domain.ProcessingOptions, input string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(base))
	b.WriteString("\n\n")
	b.WriteString(OptionsGuidance(opts))
	b.WriteString("\n\n")
	b.WriteString(inputHeader)
	b.WriteString("\n")
	b.WriteString(input)
	return b.String()
}

// cutAtRune shortens s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
