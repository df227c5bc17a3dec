package canvas

// CellDelta is the materialization outcome of applying one accepted event.
type CellDelta struct {
	// Cell is the resulting cell row. Only meaningful when Materialized.
	Cell Cell
	// NewCell reports that the coordinate had never been painted.
	NewCell bool
	// Materialized reports that the cell row must be written. Historical
	// events (older than the cell's latest placement) stay in the log but
	// leave the cell untouched.
	Materialized bool
	// NewlyOverwritten reports that this event is the first time a user other
	// than the cell's first painter overwrote it. Each cell contributes at
	// most once to the distinct-overwrite counter.
	NewlyOverwritten bool
}

// ApplyEvent computes the cell delta for an accepted event. existing is nil
// when the coordinate has no materialized cell yet.
func ApplyEvent(existing *Cell, event PixelEvent) CellDelta {
	if existing == nil {
		return CellDelta{
			Cell: Cell{
				X:            event.X,
				Y:            event.Y,
				Color:        event.Color,
				LastUserPK:   event.UserPK,
				FirstUserPK:  event.UserPK,
				LastPlacedAt: event.PlacedAt,
			},
			NewCell:      true,
			Materialized: true,
		}
	}

	if event.PlacedAt <= existing.LastPlacedAt {
		return CellDelta{Cell: *existing}
	}

	updated := *existing
	updated.Color = event.Color
	updated.LastUserPK = event.UserPK
	updated.LastPlacedAt = event.PlacedAt

	newlyOverwritten := false
	if event.UserPK != existing.FirstUserPK {
		updated.OverwrittenByOther++
		newlyOverwritten = updated.OverwrittenByOther == 1
	}

	return CellDelta{
		Cell:             updated,
		Materialized:     true,
		NewlyOverwritten: newlyOverwritten,
	}
}

// ShouldResize reports whether the canvas has met both growth thresholds:
// every cell painted and at least half of them overwritten by a different
// user than their first painter.
func ShouldResize(meta Meta) bool {
	if meta.TotalPixels == 0 {
		return false
	}
	return meta.FilledCount == meta.TotalPixels &&
		meta.OverwrittenDistinctCount >= meta.TotalPixels/2
}
