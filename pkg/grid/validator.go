package grid

import (
	"fmt"
)

// Placement is the rectangle a region occupies on the dashboard grid.
// Rows grow downward without bound; columns are limited by the layout's
// configured column count.
type Placement struct {
	Row     int `json:"row" bson:"row"`
	Col     int `json:"col" bson:"col"`
	RowSpan int `json:"row_span" bson:"row_span"`
	ColSpan int `json:"col_span" bson:"col_span"`
}

// PlacedRegion is the minimal view of an existing region the validator
// needs: its identity, rectangle, and whether it is collapsed (collapsed
// regions do not participate in the overlap check).
type PlacedRegion struct {
	ID        string
	Placement Placement
	Collapsed bool
}

// ValidationError describes a rejected placement.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid placement: " + e.Reason
}

// Overlaps reports whether two placements occupy any common cell.
// Rectangles are half-open: [Row, Row+RowSpan) x [Col, Col+ColSpan).
func (p Placement) Overlaps(other Placement) bool {
	if p.Row+p.RowSpan <= other.Row || other.Row+other.RowSpan <= p.Row {
		return false
	}
	if p.Col+p.ColSpan <= other.Col || other.Col+other.ColSpan <= p.Col {
		return false
	}
	return true
}

// Normalize clamps spans up to 1 so a zero-span request from a sloppy
// client becomes the smallest legal rectangle rather than a degenerate one.
func (p Placement) Normalize() Placement {
	if p.RowSpan < 1 {
		p.RowSpan = 1
	}
	if p.ColSpan < 1 {
		p.ColSpan = 1
	}
	return p
}

// Validate checks a proposed placement for a region against the layout's
// column count and every other non-collapsed region. regionID identifies
// the region being placed so its own current rectangle is excluded.
// Both the client engine and the persistence authority call this before
// applying any placement, and inbound broadcasts are replayed through it
// defensively.
func Validate(cols int, regions []PlacedRegion, regionID string, p Placement) error {
	if p.Row < 0 || p.Col < 0 {
		return &ValidationError{Reason: fmt.Sprintf("row/col must be non-negative, got (%d,%d)", p.Row, p.Col)}
	}
	if p.RowSpan < 1 || p.ColSpan < 1 {
		return &ValidationError{Reason: fmt.Sprintf("spans must be at least 1, got %dx%d", p.RowSpan, p.ColSpan)}
	}
	if p.Col+p.ColSpan > cols {
		return &ValidationError{Reason: fmt.Sprintf("placement exceeds %d columns (col %d span %d)", cols, p.Col, p.ColSpan)}
	}
	for _, other := range regions {
		if other.ID == regionID || other.Collapsed {
			continue
		}
		if p.Overlaps(other.Placement) {
			return &ValidationError{Reason: fmt.Sprintf("overlaps region %s at (%d,%d)", other.ID, other.Placement.Row, other.Placement.Col)}
		}
	}
	return nil
}

// FirstFree scans row-major for the first rectangle of the given size that
// fits the layout. Used when a region is added without an explicit position.
// A span wider than the grid is clamped to the full width so the scan always
// terminates.
func FirstFree(cols int, regions []PlacedRegion, rowSpan, colSpan int) Placement {
	p := Placement{RowSpan: rowSpan, ColSpan: colSpan}.Normalize()
	if p.ColSpan > cols {
		p.ColSpan = cols
	}
	for row := 0; ; row++ {
		for col := 0; col+p.ColSpan <= cols; col++ {
			p.Row, p.Col = row, col
			if Validate(cols, regions, "", p) == nil {
				return p
			}
		}
	}
}
