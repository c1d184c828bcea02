// Package marketkey canonicalizes free-text market names so that differently
// formatted spellings of the same metropolitan area compare equal.
package marketkey

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// Alternation is leftmost-first, so longer phrases are listed before the
	// words they contain.
	boilerplatePattern = regexp.MustCompile(`\b(metropolitan statistical area|micropolitan statistical area|metropolitan division|metropolitan area|micropolitan area|statistical area|metro area|micro area|metropolitan|micropolitan|msa|cbsa|metro|micro)\b`)
	punctuationPattern = regexp.MustCompile(`[^\p{L}\p{N},\s]+`)
	stateSuffixPattern = regexp.MustCompile(`(?i)[\s,\-]([a-z]{2})$`)
)

var placeholderTokens = map[string]bool{
	"":        true,
	"unknown": true,
	"n/a":     true,
	"na":      true,
	"none":    true,
	"null":    true,
	"-":       true,
	"--":      true,
}

// Key is a parsed market name: the place tokens and the normalized
// region/state qualifier (empty when the input carried none).
type Key struct {
	Place string
	State string
}

// String joins the key as "<place tokens> <state-abbrev>".
func (k Key) String() string {
	switch {
	case k.State == "":
		return k.Place
	case k.Place == "":
		return k.State
	default:
		return k.Place + " " + k.State
	}
}

// Qualified reports whether the key carries a state qualifier.
func (k Key) Qualified() bool {
	return k.State != ""
}

// Parse splits a raw market name into place tokens and a state qualifier.
// A comma-separated trailing part is always treated as the qualifier; without a
// comma a trailing two-letter state abbreviation is.
func Parse(raw string) Key {
	s := strings.ToLower(raw)
	s = punctuationPattern.ReplaceAllString(s, " ")
	s = boilerplatePattern.ReplaceAllString(s, " ")

	parts := strings.Split(s, ",")
	place := collapse(parts[0])

	if len(parts) > 1 {
		var qualifiers []string
		for _, part := range parts[1:] {
			if q := normalizeQualifier(part); q != "" {
				qualifiers = append(qualifiers, q)
			}
		}
		return Key{Place: place, State: strings.Join(qualifiers, " ")}
	}

	fields := strings.Fields(place)
	if len(fields) > 1 && IsStateAbbreviation(fields[len(fields)-1]) {
		return Key{
			Place: strings.Join(fields[:len(fields)-1], " "),
			State: fields[len(fields)-1],
		}
	}
	return Key{Place: place}
}

// CanonicalKey returns the comparable key for a raw market or location string.
func CanonicalKey(raw string) string {
	return Parse(raw).String()
}

// normalizeQualifier maps full state names to abbreviations, matching the
// longest multi-word name first ("district of columbia", "new york").
func normalizeQualifier(part string) string {
	tokens := strings.Fields(part)
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		matched := false
		for n := 3; n >= 1; n-- {
			if i+n > len(tokens) {
				continue
			}
			if abbrev, ok := stateAbbreviations[strings.Join(tokens[i:i+n], " ")]; ok {
				out = append(out, abbrev)
				i += n
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return strings.Join(out, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// PreferCanonicalName picks the nicer of two display names that map to the same
// key. The ordering is total, so the choice does not depend on argument order.
func PreferCanonicalName(a, b string) string {
	if a == b {
		return a
	}

	aBoiler, bBoiler := hasBoilerplate(a), hasBoilerplate(b)
	if aBoiler != bBoiler {
		if aBoiler {
			return b
		}
		return a
	}

	aState, bState := hasStateSuffix(a), hasStateSuffix(b)
	if aState != bState {
		if aState {
			return a
		}
		return b
	}

	aLen, bLen := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if aLen != bLen {
		if aLen < bLen {
			return a
		}
		return b
	}

	if a < b {
		return a
	}
	return b
}

func hasBoilerplate(name string) bool {
	return boilerplatePattern.MatchString(strings.ToLower(name))
}

func hasStateSuffix(name string) bool {
	m := stateSuffixPattern.FindStringSubmatch(strings.TrimSpace(name))
	return m != nil && IsStateAbbreviation(strings.ToLower(m[1]))
}

// IsValidLocationToken rejects empty and placeholder values such as "unknown",
// "n/a", "none" and "-".
func IsValidLocationToken(value string) bool {
	return !placeholderTokens[strings.ToLower(strings.TrimSpace(value))]
}

// DealMarketName returns the market name a deal should be grouped under: the
// explicit market field when valid, otherwise "<city>, <state>" when both are
// valid, otherwise "" (no association).
func DealMarketName(market, city, state string) string {
	if IsValidLocationToken(market) {
		return strings.TrimSpace(market)
	}
	if IsValidLocationToken(city) && IsValidLocationToken(state) {
		return strings.TrimSpace(city) + ", " + strings.TrimSpace(state)
	}
	return ""
}
