package canvas

const microsPerSecond = 1_000_000

// CreditBalance is the result of replaying a user's placement history.
type CreditBalance struct {
	// Available is the credit count at the evaluated instant.
	Available int
	// CorruptHistory reports that the replay dipped below zero, which means
	// the stored history violates the rate invariant. The balance is clamped
	// to zero for the decision; callers should log a diagnostic.
	CorruptHistory bool
}

// CreditsAt replays a user's recent placement history and returns the credits
// available at time t (unix microseconds). priorNewestFirst holds the
// placed_at values of the at most maxCredits most recent accepted placements
// strictly before t, newest first — equal microseconds are the same event id,
// so strict ordering is total per user.
//
// Credits regenerate continuously: one credit per regenSeconds, capped at
// maxCredits, with each placement consuming one.
func CreditsAt(priorNewestFirst []int64, t int64, maxCredits, regenSeconds int) CreditBalance {
	if len(priorNewestFirst) == 0 {
		return CreditBalance{Available: maxCredits}
	}

	regen := int64(regenSeconds) * microsPerSecond
	oldest := priorNewestFirst[len(priorNewestFirst)-1]

	// Before the visible history the user is assumed to have been full.
	credits := maxCredits
	prev := oldest - int64(maxCredits)*regen

	corrupt := false
	for i := len(priorNewestFirst) - 1; i >= 0; i-- {
		placedAt := priorNewestFirst[i]
		credits = regenerate(credits, placedAt-prev, regen, maxCredits)
		credits--
		if credits < 0 {
			corrupt = true
			credits = 0
		}
		prev = placedAt
	}

	credits = regenerate(credits, t-prev, regen, maxCredits)
	return CreditBalance{Available: credits, CorruptHistory: corrupt}
}

func regenerate(credits int, elapsed, regen int64, maxCredits int) int {
	if elapsed <= 0 {
		return credits
	}
	gained := elapsed / regen
	if gained > int64(maxCredits) {
		gained = int64(maxCredits)
	}
	credits += int(gained)
	if credits > maxCredits {
		credits = maxCredits
	}
	return credits
}

// NextCreditSeconds returns how many seconds until the next credit
// regenerates, given the newest placement and the current time in unix
// microseconds. It is meaningful only while the balance is below maxCredits.
func NextCreditSeconds(newestPlacedAt, now int64, regenSeconds int) int64 {
	elapsedSeconds := (now - newestPlacedAt) / microsPerSecond
	if elapsedSeconds < 0 {
		elapsedSeconds = 0
	}
	return int64(regenSeconds) - elapsedSeconds%int64(regenSeconds)
}
