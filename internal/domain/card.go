package domain

import "time"

// Flashcard is a question/answer pair, either generated from highlights or
// authored by hand.
type Flashcard struct {
	ID           string    `json:"id"`
	SourcePath   string    `json:"sourcePath"`
	HighlightIDs []string  `json:"highlightIds"`
	Question     string    `json:"question"`
	Answer       string    `json:"answer"`
	CreatedAt    time.Time `json:"createdAt"`
}

// FlashcardFile is the single global flashcard document.
type FlashcardFile struct {
	Version int         `json:"version"`
	Cards   []Flashcard `json:"cards"`
}

// DefaultFlashcardFile returns an empty flashcard document.
func DefaultFlashcardFile() FlashcardFile {
	return FlashcardFile{Version: SchemaVersion, Cards: []Flashcard{}}
}

// QA is a bare question/answer pair before it becomes a Flashcard.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Grade is the binary outcome of reviewing a card.
type Grade string

const (
	Good  Grade = "good"
	Again Grade = "again"
)

// GradeFromBool maps a "did you know it" answer to a Grade.
func GradeFromBool(good bool) Grade {
	if good {
		return Good
	}
	return Again
}

// CardProgress is the review state of one flashcard.
type CardProgress struct {
	LastReviewedAt *time.Time `json:"lastReviewedAt,omitempty"`
	NextDueAt      *time.Time `json:"nextDueAt,omitempty"`
	Streak         int        `json:"streak"`
	IntervalDays   int        `json:"intervalDays"`
	Done           bool       `json:"done,omitempty"`
}

// ProgressFile is the single global progress document keyed by card id.
type ProgressFile struct {
	Version  int                     `json:"version"`
	Progress map[string]CardProgress `json:"progress"`
}

// DefaultProgressFile returns an empty progress document.
func DefaultProgressFile() ProgressFile {
	return ProgressFile{Version: SchemaVersion, Progress: map[string]CardProgress{}}
}

// Clone returns a deep copy so callers can't mutate a cached document.
func (p ProgressFile) Clone() ProgressFile {
	out := ProgressFile{Version: p.Version, Progress: make(map[string]CardProgress, len(p.Progress))}
	for id, cp := range p.Progress {
		out.Progress[id] = cp
	}
	return out
}
