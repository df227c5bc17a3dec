package pixel

import (
	"encoding/json"
	"time"
)

// MaxFutureSkew is the clock-skew tolerance for placement timestamps.
const MaxFutureSkew = 2 * time.Minute

// Placement is the decoded body of a pixel object fetched from a homeserver.
type Placement struct {
	X     int
	Y     int
	Color int
}

// Verdict classifies a candidate placement.
type Verdict string

const (
	// VerdictValid means the placement passed every stateless check.
	VerdictValid Verdict = "valid"
	// VerdictBadPayload means the object body was not a well-formed placement.
	VerdictBadPayload Verdict = "bad_payload"
	// VerdictOutOfBounds means the coordinates fall outside the current canvas.
	VerdictOutOfBounds Verdict = "out_of_bounds"
	// VerdictBadColor means the color index is outside the palette.
	VerdictBadColor Verdict = "bad_color"
	// VerdictFuture means the placement timestamp exceeds the skew tolerance.
	VerdictFuture Verdict = "future"
)

type placementPayload struct {
	X     *int64 `json:"x"`
	Y     *int64 `json:"y"`
	Color *int64 `json:"color"`
}

// ParsePlacement decodes a fetched object body. Extra fields are ignored,
// missing or negative fields reject.
func ParsePlacement(body []byte) (Placement, bool) {
	var payload placementPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return Placement{}, false
	}
	if payload.X == nil || payload.Y == nil || payload.Color == nil {
		return Placement{}, false
	}
	if *payload.X < 0 || *payload.Y < 0 || *payload.Color < 0 {
		return Placement{}, false
	}
	return Placement{X: int(*payload.X), Y: int(*payload.Y), Color: int(*payload.Color)}, true
}

// Validate runs the stateless per-event checks against the current canvas
// size. placedAt is unix microseconds decoded from the event id.
func Validate(p Placement, placedAt int64, canvasSize int, now time.Time) Verdict {
	if p.Color >= PaletteSize {
		return VerdictBadColor
	}
	if p.X >= canvasSize || p.Y >= canvasSize {
		return VerdictOutOfBounds
	}
	if placedAt > now.Add(MaxFutureSkew).UnixMicro() {
		return VerdictFuture
	}
	return VerdictValid
}
