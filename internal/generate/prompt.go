package generate

import (
	"fmt"
	"strings"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/knol"
)

// SystemPrompt instructs the model to answer with a bare JSON array.
const SystemPrompt = `You turn passages a student highlighted in a document into study flashcards.

Write one flashcard per distinct idea. Each question must be answerable from the passages alone; keep answers short and factual.

Respond with a JSON array and nothing else. Every element must be an object with exactly two string fields, "question" and "answer".`

// UserPrompt lists the highlighted passages of one document.
func UserPrompt(sourcePath string, highlights []domain.Highlight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n\nHighlighted passages:\n", sourcePath)
	for i, h := range highlights {
		fmt.Fprintf(&b, "%d. %s", i+1, knol.CollapseSpace(h.Text))
		if pages := h.PageNumbers(); len(pages) > 0 {
			fmt.Fprintf(&b, " (page %d)", pages[0])
		}
		b.WriteString("\n")
	}
	return b.String()
}
