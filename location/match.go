package location

// Match describes how confident a resolved render position is that it still
// identifies the content the annotation was originally placed on.
type Match string

const (
	MatchExact      Match = "exact"
	MatchSibling    Match = "sibling"
	MatchStale      Match = "stale"
	MatchMaybeStale Match = "maybe_stale"
	MatchChart      Match = "chart"
	MatchMultimedia Match = "multimedia"
	MatchNone       Match = "none"
)

// Valid reports whether the match is considered on-page (EXACT or SIBLING).
func (m Match) Valid() bool {
	return m == MatchExact || m == MatchSibling
}

// MaybeStale reports whether the match may point at changed content.
// These are excluded unless the caller opts into stale pins.
func (m Match) MaybeStale() bool {
	switch m {
	case MatchStale, MatchMaybeStale, MatchChart, MatchMultimedia:
		return true
	}
	return false
}

// Renderable is false only for MatchNone and unknown values.
func (m Match) Renderable() bool {
	return m.Valid() || m.MaybeStale()
}

// Accepted returns the set of match types a consumer shows: only valid ones
// when hideStale is true, valid and maybe-stale otherwise.
func Accepted(hideStale bool) map[Match]bool {
	acc := map[Match]bool{MatchExact: true, MatchSibling: true}
	if !hideStale {
		for _, m := range []Match{MatchStale, MatchMaybeStale, MatchChart, MatchMultimedia} {
			acc[m] = true
		}
	}
	return acc
}
