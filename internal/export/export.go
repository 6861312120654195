// Package export renders highlights as a plain-text summary.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/knol"
)

// Empty is the whole output for a document without highlights.
const Empty = "No annotations.\n"

// Render groups highlights by color in domain.ExportOrder and writes one
// bullet per highlight. Highlights keep their input order inside a group,
// so identical input always renders to identical bytes.
func Render(highlights []domain.Highlight) string {
	groups := make(map[domain.Color][]domain.Highlight)
	for _, h := range highlights {
		groups[h.Color] = append(groups[h.Color], h)
	}

	var b strings.Builder
	for _, color := range domain.ExportOrder {
		group := groups[color]
		if len(group) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n\n", color.Label())
		for _, h := range group {
			b.WriteString("- ")
			b.WriteString(knol.CollapseSpace(h.Text))
			if pages := h.PageNumbers(); len(pages) > 0 {
				b.WriteString(" ")
				b.WriteString(pageSuffix(pages))
			}
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return Empty
	}
	return b.String()
}

func pageSuffix(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return "(p. " + strings.Join(parts, ", ") + ")"
}

// FileName returns the export file name for a source document. The path key
// keeps documents with the same base name in different directories apart.
func FileName(sourcePath string) string {
	base := filepath.Base(sourcePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "-" + knol.PathKey(sourcePath) + ".annotations.md"
}

// WriteFile writes text to path unless the file already holds exactly that
// text. It reports whether the file was written.
func WriteFile(path, text string) (bool, error) {
	existing, err := os.ReadFile(path)
	switch {
	case err == nil && bytes.Equal(existing, []byte(text)):
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
