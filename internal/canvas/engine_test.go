package canvas

import "testing"

const (
	userA = "a1111111111111111111111111111111111111111111111111ya"
	userB = "b3333333333333333333333333333333333333333333333333yb"
)

func TestApplyEventCreatesNewCell(t *testing.T) {
	event := PixelEvent{ID: "0000000000001", UserPK: userA, X: 7, Y: 3, Color: 5, PlacedAt: 1000}

	delta := ApplyEvent(nil, event)
	if !delta.NewCell || !delta.Materialized {
		t.Fatalf("expected new materialized cell, got %+v", delta)
	}
	if delta.NewlyOverwritten {
		t.Fatalf("new cell must not count as overwritten")
	}
	if delta.Cell.FirstUserPK != userA || delta.Cell.LastUserPK != userA {
		t.Fatalf("expected first and last painter to be the placer, got %+v", delta.Cell)
	}
	if delta.Cell.Color != 5 || delta.Cell.LastPlacedAt != 1000 {
		t.Fatalf("unexpected cell state: %+v", delta.Cell)
	}
}

func TestApplyEventOverwriteByOtherCountsOnce(t *testing.T) {
	cell := Cell{X: 0, Y: 0, Color: 5, LastUserPK: userA, FirstUserPK: userA, LastPlacedAt: 1000}

	first := ApplyEvent(&cell, PixelEvent{ID: "0000000000002", UserPK: userB, X: 0, Y: 0, Color: 7, PlacedAt: 2000})
	if !first.Materialized || first.NewCell {
		t.Fatalf("expected materialized overwrite, got %+v", first)
	}
	if !first.NewlyOverwritten {
		t.Fatalf("first overwrite by another user must mark the cell")
	}
	if first.Cell.Color != 7 || first.Cell.LastUserPK != userB {
		t.Fatalf("unexpected cell state: %+v", first.Cell)
	}
	if first.Cell.FirstUserPK != userA {
		t.Fatalf("first painter must be preserved, got %q", first.Cell.FirstUserPK)
	}

	second := ApplyEvent(&first.Cell, PixelEvent{ID: "0000000000003", UserPK: userB, X: 0, Y: 0, Color: 8, PlacedAt: 3000})
	if second.NewlyOverwritten {
		t.Fatalf("a cell contributes to the distinct counter at most once")
	}
	if second.Cell.OverwrittenByOther != 2 {
		t.Fatalf("expected overwrite count 2, got %d", second.Cell.OverwrittenByOther)
	}
}

func TestApplyEventBySamePainterIsNotAnOverwrite(t *testing.T) {
	cell := Cell{X: 4, Y: 4, Color: 1, LastUserPK: userA, FirstUserPK: userA, LastPlacedAt: 1000}

	delta := ApplyEvent(&cell, PixelEvent{ID: "0000000000004", UserPK: userA, X: 4, Y: 4, Color: 9, PlacedAt: 2000})
	if delta.NewlyOverwritten || delta.Cell.OverwrittenByOther != 0 {
		t.Fatalf("repaint by the first painter must not count, got %+v", delta)
	}
	if delta.Cell.Color != 9 {
		t.Fatalf("expected repaint to materialize, got %+v", delta.Cell)
	}
}

func TestApplyEventHistoricalEventLeavesCellUntouched(t *testing.T) {
	cell := Cell{X: 2, Y: 2, Color: 3, LastUserPK: userA, FirstUserPK: userA, LastPlacedAt: 5000}

	delta := ApplyEvent(&cell, PixelEvent{ID: "0000000000005", UserPK: userB, X: 2, Y: 2, Color: 7, PlacedAt: 4000})
	if delta.Materialized || delta.NewCell || delta.NewlyOverwritten {
		t.Fatalf("historical event must not touch the cell, got %+v", delta)
	}
}

func TestShouldResize(t *testing.T) {
	tests := []struct {
		name string
		meta Meta
		want bool
	}{
		{name: "empty canvas", meta: Meta{Size: 16, TotalPixels: 256}, want: false},
		{name: "full but calm", meta: Meta{Size: 16, TotalPixels: 256, FilledCount: 256, OverwrittenDistinctCount: 127}, want: false},
		{name: "full and contested", meta: Meta{Size: 16, TotalPixels: 256, FilledCount: 256, OverwrittenDistinctCount: 128}, want: true},
		{name: "contested but not full", meta: Meta{Size: 16, TotalPixels: 256, FilledCount: 255, OverwrittenDistinctCount: 200}, want: false},
		{name: "uninitialized", meta: Meta{}, want: false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := ShouldResize(test.meta); got != test.want {
				t.Fatalf("expected %v, got %v", test.want, got)
			}
		})
	}
}
