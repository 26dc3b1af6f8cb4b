package domain

import (
	"fmt"
	"strings"
	"time"
)

type SortBy string

const (
	SortOriginal SortBy = "original"
	SortAgency   SortBy = "agency"
	SortLocation SortBy = "location"
	SortAmount   SortBy = "amount"
)

func ParseSortBy(s string) (SortBy, error) {
	switch SortBy(strings.ToLower(strings.TrimSpace(s))) {
	case SortOriginal:
		return SortOriginal, nil
	case SortAgency:
		return SortAgency, nil
	case SortLocation:
		return SortLocation, nil
	case SortAmount:
		return SortAmount, nil
	}
	return "", fmt.Errorf("unknown sort order %q (want original, agency, location or amount)", s)
}

// ProcessingOptions are the user's display choices. They only change the
// wording of the prompt sent to the model.
type ProcessingOptions struct {
	SortBy          SortBy `json:"sortBy"`
	MergeDuplicates bool   `json:"mergeDuplicates"`
	ShowOnlyIDs     bool   `json:"showOnlyIds"`
}

func DefaultOptions() ProcessingOptions {
	return ProcessingOptions{SortBy: SortOriginal}
}

// Settings are the two persisted provider credentials.
type Settings struct {
	APIKey   string `json:"apiKey"`
	Endpoint string `json:"apiEndpoint"`
}

type Trigger string

const (
	TriggerManual Trigger = "manual"
	TriggerAuto   Trigger = "auto"
)

const (
	RunStatusOK    = "ok"
	RunStatusError = "error"
)

type RunRecord struct {
	ID                string
	SessionID         string
	Trigger           Trigger
	Status            string
	Signature         string
	InputChars        int
	EstimatedMessages int
	Summary           string
	Error             string
	Provider          string
	Model             string
	CreatedAt         time.Time
}
