package grid

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	// Fixed fixture: region X at (0,0) spanning 2 rows x 4 cols on a
	// 12-column grid.
	existing := []PlacedRegion{
		{ID: "x", Placement: Placement{Row: 0, Col: 0, RowSpan: 2, ColSpan: 4}},
	}

	tests := []struct {
		name    string
		regions []PlacedRegion
		id      string
		p       Placement
		wantErr bool
	}{
		{
			name:    "Free Cell",
			regions: existing,
			id:      "y",
			p:       Placement{Row: 0, Col: 4, RowSpan: 1, ColSpan: 2},
		},
		{
			name:    "Overlap Inside X",
			regions: existing,
			id:      "y",
			p:       Placement{Row: 1, Col: 2, RowSpan: 1, ColSpan: 2},
			wantErr: true,
		},
		{
			name:    "Edge Adjacent Below",
			regions: existing,
			id:      "y",
			p:       Placement{Row: 2, Col: 0, RowSpan: 1, ColSpan: 4},
		},
		{
			name:    "Negative Row",
			regions: existing,
			id:      "y",
			p:       Placement{Row: -1, Col: 0, RowSpan: 1, ColSpan: 1},
			wantErr: true,
		},
		{
			name:    "Zero Span",
			regions: existing,
			id:      "y",
			p:       Placement{Row: 5, Col: 0, RowSpan: 0, ColSpan: 1},
			wantErr: true,
		},
		{
			name:    "Exceeds Columns",
			regions: existing,
			id:      "y",
			p:       Placement{Row: 5, Col: 10, RowSpan: 1, ColSpan: 3},
			wantErr: true,
		},
		{
			name:    "Fills Last Columns",
			regions: existing,
			id:      "y",
			p:       Placement{Row: 5, Col: 10, RowSpan: 1, ColSpan: 2},
		},
		{
			name:    "Move Over Own Cells",
			regions: existing,
			id:      "x",
			p:       Placement{Row: 1, Col: 0, RowSpan: 2, ColSpan: 4},
		},
		{
			name: "Collapsed Regions Exempt",
			regions: []PlacedRegion{
				{ID: "x", Placement: Placement{Row: 0, Col: 0, RowSpan: 2, ColSpan: 4}, Collapsed: true},
			},
			id: "y",
			p:  Placement{Row: 0, Col: 0, RowSpan: 1, ColSpan: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(12, tt.regions, tt.id, tt.p)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var ve *ValidationError
				if !errors.As(err, &ve) {
					t.Errorf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	a := Placement{Row: 0, Col: 0, RowSpan: 2, ColSpan: 2}

	if !a.Overlaps(Placement{Row: 1, Col: 1, RowSpan: 2, ColSpan: 2}) {
		t.Error("corner overlap not detected")
	}
	if a.Overlaps(Placement{Row: 2, Col: 0, RowSpan: 1, ColSpan: 2}) {
		t.Error("adjacent rectangles must not overlap")
	}
	if a.Overlaps(Placement{Row: 0, Col: 2, RowSpan: 2, ColSpan: 1}) {
		t.Error("side-by-side rectangles must not overlap")
	}
}

func TestNormalize(t *testing.T) {
	p := Placement{Row: 3, Col: 2}.Normalize()
	if p.RowSpan != 1 || p.ColSpan != 1 {
		t.Errorf("Normalize() = %+v, want spans of 1", p)
	}
}

func TestFirstFree(t *testing.T) {
	regions := []PlacedRegion{
		{ID: "a", Placement: Placement{Row: 0, Col: 0, RowSpan: 1, ColSpan: 10}},
		{ID: "b", Placement: Placement{Row: 1, Col: 0, RowSpan: 1, ColSpan: 6}},
	}

	got := FirstFree(12, regions, 1, 4)
	want := Placement{Row: 1, Col: 6, RowSpan: 1, ColSpan: 4}
	if got != want {
		t.Errorf("FirstFree() = %+v, want %+v", got, want)
	}

	// No gap wide enough on occupied rows: lands on the next empty row.
	got = FirstFree(12, regions, 2, 12)
	if got.Row != 2 || got.Col != 0 {
		t.Errorf("FirstFree() = %+v, want row 2 col 0", got)
	}
}

func TestFirstFreeClampsOversizedSpan(t *testing.T) {
	got := FirstFree(4, nil, 1, 12)
	want := Placement{Row: 0, Col: 0, RowSpan: 1, ColSpan: 4}
	if got != want {
		t.Errorf("FirstFree() = %+v, want %+v", got, want)
	}
}
