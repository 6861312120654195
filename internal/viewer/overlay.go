// Package viewer adapts the host document viewer to the highlight store.
//
// The viewer reports selections and mounted page boxes in client
// coordinates. This package turns selections into stored highlights and
// stored highlights back into overlay rectangles for whatever pages are
// currently mounted.
package viewer

import (
	"github.com/conorfennell/knolmark/internal/domain"
	"github.com/conorfennell/knolmark/internal/geometry"
)

// Overlay is one colored rectangle to draw over a mounted page.
type Overlay struct {
	HighlightID string        `json:"highlightId"`
	Color       domain.Color  `json:"color"`
	Page        int           `json:"page"` // 1-based
	Rect        geometry.Rect `json:"rect"`
}

// Overlays projects highlights onto the mounted pages. Pages that are not
// mounted are skipped; they are drawn on a later sync once they mount.
func Overlays(highlights []domain.Highlight, pages []geometry.PageBox) []Overlay {
	out := []Overlay{}
	for _, h := range highlights {
		for _, group := range h.Pages {
			page, ok := geometry.FindPage(pages, group.Page+1)
			if !ok {
				continue
			}
			for _, r := range group.Rects {
				out = append(out, Overlay{
					HighlightID: h.ID,
					Color:       h.Color,
					Page:        page.Index,
					Rect:        geometry.Denormalize(r, page.Box),
				})
			}
		}
	}
	return out
}
