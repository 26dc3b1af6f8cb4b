package organizer

import (
	"errors"

	"waorganizer/internal/domain"
)

// Notification is a user-facing toast.
type Notification struct {
	Title       string `json:"title"`
	Message     string `json:"message"`
	Destructive bool   `json:"destructive"`
}

const (
	titleError           = "خطأ"
	titleProcessingError = "خطأ في المعالجة"
	titleSuccess         = "تم بنجاح"
	titleConnected       = "متصل"
	titleConnectionError = "خطأ في الاتصال"

	msgEmptyInput      = "يرجى إدخال النص المراد معالجته"
	msgMissingAPIKey   = "يرجى إدخال مفتاح API الخاص بـ Gemini"
	msgMissingEndpoint = "يرجى إدخال رابط واجهة Gemini API"
	msgProcessingError = "حدث خطأ أثناء معالجة الرسائل. يرجى المحاولة مرة أخرى."
	msgAutoUpdateError = "فشل تحديث الخيارات تلقائياً. حاول المعالجة يدوياً."
	msgSuccess         = "تم معالجة الرسائل وترتيبها"
	msgConnected       = "الاتصال مع Gemini API يعمل بشكل صحيح"
	msgConnectionError = "فشل الاتصال مع Gemini API. تحقق من المفتاح."
)

// Notice returns the toast for the outcome of a Process call, and false when
// nothing should be shown. Auto runs stay quiet except for a softer failure
// message.
func Notice(trigger domain.Trigger, err error) (Notification, bool) {
	if err == nil {
		if trigger == domain.TriggerAuto {
			return Notification{}, false
		}
		return Notification{Title: titleSuccess, Message: msgSuccess}, true
	}
	if IsValidation(err) {
		if trigger == domain.TriggerAuto {
			return Notification{}, false
		}
		return Notification{Title: titleError, Message: validationMessage(err), Destructive: true}, true
	}
	if trigger == domain.TriggerAuto {
		return Notification{Title: titleProcessingError, Message: msgAutoUpdateError, Destructive: true}, true
	}
	return Notification{Title: titleProcessingError, Message: msgProcessingError, Destructive: true}, true
}

// ConnectionNotice is the toast for a CheckConnection outcome.
func ConnectionNotice(err error) Notification {
	switch {
	case err == nil:
		return Notification{Title: titleConnected, Message: msgConnected}
	case IsValidation(err):
		return Notification{Title: titleError, Message: validationMessage(err), Destructive: true}
	default:
		return Notification{Title: titleConnectionError, Message: msgConnectionError, Destructive: true}
	}
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return msgEmptyInput
	case errors.Is(err, ErrMissingAPIKey):
		return msgMissingAPIKey
	default:
		return msgMissingEndpoint
	}
}
