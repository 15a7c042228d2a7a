// Package peerid generates and validates the human-friendly identifiers
// used to address a party at the rendezvous server.
package peerid

import (
	"fmt"
	"math/rand/v2"
)

// Word tables for identifier generation. Immutable process-wide.
var adjectives = []string{
	"happy", "sunny", "brave", "calm", "cool", "cute", "fast", "kind",
	"neat", "nice", "quiet", "smart", "soft", "warm", "wild", "wise",
	"bold", "bright", "clean", "clever", "cozy", "eager", "fair", "fancy",
	"gentle", "glad", "golden", "grand", "great", "jolly", "keen", "lively",
	"lucky", "merry", "mighty", "noble", "proud", "pure", "quick", "rapid",
	"rich", "royal", "sharp", "shiny", "silver", "simple", "smooth", "snowy",
	"spicy", "steady", "strong", "super", "sweet", "swift", "tender", "tiny",
	"vivid", "witty", "young", "zesty",
}

var nouns = []string{
	"apple", "banana", "cherry", "dolphin", "eagle", "falcon", "grape",
	"harbor", "island", "jungle", "kitten", "lemon", "mango", "nectar",
	"orange", "panda", "quartz", "rabbit", "sunset", "tiger", "umbrella",
	"violet", "walrus", "xenon", "yellow", "zebra", "anchor", "breeze",
	"castle", "dragon", "ember", "forest", "glacier", "horizon", "indigo",
	"jasper", "kraken", "lantern", "meadow", "nebula", "ocean", "phoenix",
	"quasar", "river", "shadow", "thunder", "unicorn", "vortex", "willow",
	"crystal", "dusk", "echo", "flame", "glow", "haze", "iris", "jewel",
	"karma", "lotus", "moon", "nova",
}

// Generate returns a random identifier like "happy-apple-sunset".
func Generate() string {
	adj := adjectives[rand.IntN(len(adjectives))]
	noun1 := nouns[rand.IntN(len(nouns))]
	noun2 := nouns[rand.IntN(len(nouns))]
	return fmt.Sprintf("%s-%s-%s", adj, noun1, noun2)
}

// Valid reports whether id is an acceptable peer identifier: non-empty,
// at most 64 characters, first and last alphanumeric, and every character
// alphanumeric, dash, or underscore.
func Valid(id string) bool {
	if len(id) == 0 || len(id) > 64 {
		return false
	}
	if !isAlnum(id[0]) || !isAlnum(id[len(id)-1]) {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !isAlnum(c) && c != '-' && c != '_' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}
