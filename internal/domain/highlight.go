package domain

import (
	"fmt"
	"slices"
	"time"
)

// SchemaVersion is written into every persisted document.
const SchemaVersion = 1

// Color is the highlight color. Flashcard is a color too: highlights in that
// color are the ones promoted to flashcards.
type Color string

const (
	Yellow         Color = "yellow"
	Green          Color = "green"
	Blue           Color = "blue"
	FlashcardColor Color = "flashcard"
)

// ExportOrder is the fixed order in which color groups are exported.
var ExportOrder = []Color{FlashcardColor, Yellow, Green, Blue}

// ParseColor validates a color name.
func ParseColor(s string) (Color, error) {
	switch c := Color(s); c {
	case Yellow, Green, Blue, FlashcardColor:
		return c, nil
	}
	return "", fmt.Errorf("unknown highlight color %q", s)
}

// Label is the human readable name used in exports.
func (c Color) Label() string {
	switch c {
	case FlashcardColor:
		return "Flashcard"
	case Yellow:
		return "Yellow"
	case Green:
		return "Green"
	case Blue:
		return "Blue"
	}
	return string(c)
}

// UnitRect is a rectangle in page-local unit coordinates, relative to the
// page's rendered box at capture time.
type UnitRect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// PageRects groups the rectangles of a highlight on one page.
// Page is zero-based.
type PageRects struct {
	Page  int        `json:"page" validate:"gte=0"`
	Rects []UnitRect `json:"rects" validate:"min=1"`
}

// Highlight is a colored, page-anchored text selection.
type Highlight struct {
	ID                 string      `json:"id" validate:"required"`
	Color              Color       `json:"color" validate:"oneof=yellow green blue flashcard"`
	IsFlashcard        bool        `json:"isFlashcard"`
	Text               string      `json:"text"`
	CreatedAt          time.Time   `json:"createdAt"`
	Pages              []PageRects `json:"pages" validate:"min=1,dive"`
	FlashcardGenerated bool        `json:"flashcardGenerated,omitempty"`
}

// NewHighlight builds a highlight keeping IsFlashcard in step with the color.
func NewHighlight(id string, color Color, text string, pages []PageRects, now time.Time) Highlight {
	return Highlight{
		ID:          id,
		Color:       color,
		IsFlashcard: color == FlashcardColor,
		Text:        text,
		CreatedAt:   now,
		Pages:       pages,
	}
}

// PageNumbers returns the sorted, de-duplicated, 1-based pages the highlight
// touches.
func (h Highlight) PageNumbers() []int {
	seen := make(map[int]bool, len(h.Pages))
	var pages []int
	for _, p := range h.Pages {
		n := p.Page + 1
		if seen[n] {
			continue
		}
		seen[n] = true
		pages = append(pages, n)
	}
	slices.Sort(pages)
	return pages
}

// HighlightFile holds every highlight of one source document.
type HighlightFile struct {
	Version    int         `json:"version"`
	SourcePath string      `json:"sourcePath"`
	Highlights []Highlight `json:"highlights"`
}

// DefaultHighlightFile returns an empty highlight document for sourcePath.
func DefaultHighlightFile(sourcePath string) HighlightFile {
	return HighlightFile{Version: SchemaVersion, SourcePath: sourcePath, Highlights: []Highlight{}}
}
