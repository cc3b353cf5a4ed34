package seance

import "math/rand"

// ghost fragments: forced opening phrases occasionally injected into a
// turn-holder's draft. The holder's submission must carry the fragment.
var ghostFragments = []string{
	"The candle went out, and",
	"Someone else is writing with my hand:",
	"Beneath the floorboards,",
	"The last page already says",
	"I hear it again, closer now,",
	"Do not turn around, because",
	"The mirror showed a different room, where",
	"It signed my name before I could,",
}

// returns a ghost fragment chosen by the given source
func pickGhostFragment(rng *rand.Rand) string {
	return ghostFragments[rng.Intn(len(ghostFragments))]
}
