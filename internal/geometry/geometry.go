// Package geometry converts viewport selections into page-relative unit
// rectangles and back.
//
// Only unit coordinates are ever stored. Replaying a highlight at another
// zoom level or window size is a matter of calling Denormalize against the
// page's current box.
package geometry

import (
	"sort"

	"github.com/conorfennell/knolmark/internal/domain"
)

// MinExtent is the smallest width or height, in device pixels, a selection
// rectangle must exceed to be kept.
const MinExtent = 1.0

// Rect is an axis-aligned rectangle in client (viewport) coordinates.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the rectangle's center point.
func (r Rect) Center() (x, y float64) {
	return r.Left + r.Width/2, r.Top + r.Height/2
}

// Contains reports whether the point lies inside r, edges included.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.Left && x <= r.Left+r.Width && y >= r.Top && y <= r.Top+r.Height
}

func (r Rect) degenerate() bool {
	return r.Width <= MinExtent || r.Height <= MinExtent
}

// PageBox is a mounted page element: its 1-based page index and its current
// client-space box.
type PageBox struct {
	Index int  `json:"index"`
	Box   Rect `json:"box"`
}

func (p PageBox) usable() bool {
	return p.Index >= 1 && p.Box.Width > 0 && p.Box.Height > 0
}

// Normalize maps selection rectangles onto the pages containing their
// centers and returns them grouped per zero-based page, ordered by page.
// Rectangles keep their encounter order within a page. The boolean is
// false when no rectangle landed on any page.
func Normalize(selection []Rect, pages []PageBox) ([]domain.PageRects, bool) {
	groups := make(map[int][]domain.UnitRect)
	for _, r := range selection {
		if r.degenerate() {
			continue
		}
		page, ok := pageAt(r, pages)
		if !ok {
			continue
		}
		idx := page.Index - 1
		groups[idx] = append(groups[idx], normalizeTo(r, page.Box))
	}
	if len(groups) == 0 {
		return nil, false
	}

	out := make([]domain.PageRects, 0, len(groups))
	for idx, rects := range groups {
		out = append(out, domain.PageRects{Page: idx, Rects: rects})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Page < out[j].Page })
	return out, true
}

// Denormalize projects a stored unit rectangle onto a page's current box.
func Denormalize(r domain.UnitRect, box Rect) Rect {
	return Rect{
		Left:   box.Left + r.X*box.Width,
		Top:    box.Top + r.Y*box.Height,
		Width:  r.W * box.Width,
		Height: r.H * box.Height,
	}
}

func normalizeTo(r, box Rect) domain.UnitRect {
	return domain.UnitRect{
		X: (r.Left - box.Left) / box.Width,
		Y: (r.Top - box.Top) / box.Height,
		W: r.Width / box.Width,
		H: r.Height / box.Height,
	}
}

// pageAt returns the first page whose box contains the center of r.
func pageAt(r Rect, pages []PageBox) (PageBox, bool) {
	cx, cy := r.Center()
	for _, p := range pages {
		if p.usable() && p.Box.Contains(cx, cy) {
			return p, true
		}
	}
	return PageBox{}, false
}

// FindPage returns the mounted box for a 1-based page index.
func FindPage(pages []PageBox, index int) (PageBox, bool) {
	for _, p := range pages {
		if p.Index == index && p.usable() {
			return p, true
		}
	}
	return PageBox{}, false
}
