// Package kg builds the requirement knowledge graph: heuristic and
// LLM-based entity/relation extraction, canonical-key deduplication, and
// optional persistence into the vector store.
package kg

import "strings"

// Lexicon configures the heuristic extraction pass. The shipped default
// carries both English and German word shapes; deployments narrow or extend
// it without touching the builder.
type Lexicon struct {
	// Actors are matched as case-insensitive substrings of the title.
	Actors []string

	// Entities are matched as case-insensitive substrings of the title.
	Entities []string

	// VerbSuffixes mark a token as an action candidate by its ending.
	VerbSuffixes []string

	// MinVerbLen is the minimum token length considered for actions.
	MinVerbLen int
}

// DefaultLexicon returns the built-in heuristic vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Actors: []string{
			"user", "admin", "administrator", "operator", "system",
			"customer", "developer", "manager", "auditor",
			"benutzer", "nutzer", "anwender", "betreiber",
		},
		Entities: []string{
			"profile", "password", "token", "role", "account", "form",
			"search_result", "search result", "deployment", "metric",
			"report", "session", "dashboard", "notification",
			"passwort", "konto", "bericht", "formular",
		},
		VerbSuffixes: []string{"en", "s", "es"},
		MinVerbLen:   4,
	}
}

// DetectActor returns the first actor whose lexicon entry occurs in the
// title, or "".
func (l Lexicon) DetectActor(title string) string {
	lower := strings.ToLower(title)
	for _, actor := range l.Actors {
		if strings.Contains(lower, strings.ToLower(actor)) {
			return actor
		}
	}
	return ""
}

// DetectEntities returns every lexicon entity occurring in the title, in
// lexicon order.
func (l Lexicon) DetectEntities(title string) []string {
	lower := strings.ToLower(title)
	var found []string
	for _, entity := range l.Entities {
		if strings.Contains(lower, strings.ToLower(entity)) {
			found = append(found, entity)
		}
	}
	return found
}

// DetectAction returns the first token of at least MinVerbLen characters
// whose shape matches a configured verb suffix, or "".
func (l Lexicon) DetectAction(title string) string {
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		tok = strings.Trim(tok, ".,;:!?\"'()")
		if len(tok) < l.MinVerbLen {
			continue
		}
		for _, suffix := range l.VerbSuffixes {
			if strings.HasSuffix(tok, suffix) {
				return tok
			}
		}
	}
	return ""
}
