package marketkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Census catalog name",
			input:    "Dallas-Fort Worth-Arlington, TX Metro Area",
			expected: "dallas fort worth arlington tx",
		},
		{
			name:     "Full state name after comma",
			input:    "Austin, Texas",
			expected: "austin tx",
		},
		{
			name:     "Multi-word state name",
			input:    "Albany, New York",
			expected: "albany ny",
		},
		{
			name:     "District of Columbia",
			input:    "Washington, District of Columbia",
			expected: "washington dc",
		},
		{
			name:     "Multi-state qualifier",
			input:    "Philadelphia-Camden-Wilmington, PA-NJ-DE-MD MSA",
			expected: "philadelphia camden wilmington pa nj de md",
		},
		{
			name:     "Trailing abbreviation without comma",
			input:    "Austin TX",
			expected: "austin tx",
		},
		{
			name:     "Unqualified name",
			input:    "Phoenix Metro",
			expected: "phoenix",
		},
		{
			name:     "Punctuation and extra whitespace",
			input:    "  St. Louis ,   MO-IL  ",
			expected: "st louis mo il",
		},
		{
			name:     "Boilerplate only",
			input:    "Metropolitan Statistical Area",
			expected: "",
		},
		{
			name:     "Empty",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanonicalKey(tt.input)
			assert.Equal(t, tt.expected, result,
				"CanonicalKey(%q) = %q, want %q", tt.input, result, tt.expected)
		})
	}
}

func TestCanonicalKeySpellingVariants(t *testing.T) {
	groups := [][]string{
		{
			"Nashville-Davidson-Murfreesboro, TN",
			"nashville-davidson-murfreesboro tn",
			"Nashville Davidson Murfreesboro, Tennessee",
			"Nashville-Davidson-Murfreesboro, TN Metropolitan Statistical Area",
		},
		{
			"Dallas-Fort Worth",
			"Dallas Fort Worth MSA",
			"dallas/fort worth metro area",
		},
		{
			"Dallas-Fort Worth, TX",
			"Dallas Fort Worth, TX",
			"DALLAS FORT WORTH TX",
		},
	}

	for _, group := range groups {
		want := CanonicalKey(group[0])
		for _, variant := range group[1:] {
			assert.Equal(t, want, CanonicalKey(variant), "variant %q of %q", variant, group[0])
		}
	}
}

func TestParseKeepsPlaceForUnqualifiedVariant(t *testing.T) {
	qualified := Parse("Nashville-Davidson-Murfreesboro, TN")
	unqualified := Parse("Nashville Davidson Murfreesboro MSA")
	lowercase := Parse("nashville-davidson-murfreesboro tn")

	assert.Equal(t, qualified, lowercase)
	assert.True(t, qualified.Qualified())
	assert.False(t, unqualified.Qualified())
	assert.Equal(t, qualified.Place, unqualified.Place)
	assert.Equal(t, "tn", qualified.State)
}

func TestPreferCanonicalName(t *testing.T) {
	tests := []struct {
		name     string
		a        string
		b        string
		expected string
	}{
		{
			name:     "Boilerplate loses",
			a:        "Austin-Round Rock-Georgetown, TX Metro Area",
			b:        "Austin-Round Rock-Georgetown, TX",
			expected: "Austin-Round Rock-Georgetown, TX",
		},
		{
			name:     "State suffix wins",
			a:        "Dallas Fort Worth",
			b:        "Dallas Fort Worth, TX",
			expected: "Dallas Fort Worth, TX",
		},
		{
			name:     "Shorter wins",
			a:        "Dallas-Fort Worth, TX",
			b:        "Dallas - Fort Worth, TX",
			expected: "Dallas-Fort Worth, TX",
		},
		{
			name:     "Lexicographic tie-break",
			a:        "Dallas Fort Worth, TX",
			b:        "Dallas-Fort Worth, TX",
			expected: "Dallas Fort Worth, TX",
		},
		{
			name:     "Identical",
			a:        "Austin, TX",
			b:        "Austin, TX",
			expected: "Austin, TX",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PreferCanonicalName(tt.a, tt.b))
			assert.Equal(t, tt.expected, PreferCanonicalName(tt.b, tt.a))
		})
	}
}

func TestPreferCanonicalNameCommutative(t *testing.T) {
	names := []string{
		"Nashville-Davidson-Murfreesboro, TN",
		"Nashville Davidson Murfreesboro MSA",
		"nashville-davidson-murfreesboro tn",
		"Nashville, TN",
		"Nashville",
		"NASHVILLE, TN",
		"Nashville-Davidson--Murfreesboro--Franklin, TN Metro Area",
	}

	for _, a := range names {
		for _, b := range names {
			assert.Equal(t, PreferCanonicalName(a, b), PreferCanonicalName(b, a), "a=%q b=%q", a, b)
		}
	}
}

func TestIsValidLocationToken(t *testing.T) {
	for _, value := range []string{"", "  ", "unknown", "Unknown", "N/A", "n/a", "none", "-", "NULL"} {
		assert.False(t, IsValidLocationToken(value), "%q should be rejected", value)
	}
	for _, value := range []string{"Austin", "TX", "78701"} {
		assert.True(t, IsValidLocationToken(value), "%q should be accepted", value)
	}
}

func TestDealMarketName(t *testing.T) {
	tests := []struct {
		name     string
		market   string
		city     string
		state    string
		expected string
	}{
		{name: "Explicit market", market: " Austin-Round Rock-Georgetown, TX ", city: "Austin", state: "TX", expected: "Austin-Round Rock-Georgetown, TX"},
		{name: "City and state fallback", market: "n/a", city: "Boise", state: "ID", expected: "Boise, ID"},
		{name: "Missing state", market: "", city: "Boise", state: "unknown", expected: ""},
		{name: "Nothing usable", market: "-", city: "", state: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DealMarketName(tt.market, tt.city, tt.state))
		})
	}
}
