// Package family infers which of the three supported wire protocols a
// logical model name belongs to, by prefix. It is used both for fallback
// resolution in the Deployment Registry and, as a last resort, for
// usage-observer selection (the route itself disambiguates the family for
// every request actually dispatched, per spec §9 — this package backs only
// the heuristic paths: registry fallback and any name-only inference).
package family

import "strings"

// Family is one of the three supported provider wire protocols.
type Family string

const (
	OpenAI Family = "openai"
	Claude Family = "claude"
	Gemini Family = "gemini"
	Unknown Family = ""
)

// Detect infers a Family from a logical model name's prefix.
//
//	gpt* or text-* -> openai
//	claude* or anthropic* -> claude
//	gemini* -> gemini
//
// Returns Unknown if none of the prefixes match.
func Detect(modelName string) Family {
	m := strings.ToLower(modelName)
	switch {
	case strings.HasPrefix(m, "gpt") || strings.HasPrefix(m, "text-"):
		return OpenAI
	case strings.HasPrefix(m, "claude") || strings.HasPrefix(m, "anthropic"):
		return Claude
	case strings.HasPrefix(m, "gemini"):
		return Gemini
	default:
		return Unknown
	}
}
