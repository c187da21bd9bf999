package textutil

import (
	"regexp"
	"strings"
)

// titleSplitPattern matches non-alphanumeric character sequences for tokenization.
var titleSplitPattern = regexp.MustCompile(`[^a-z0-9]+`)

// titleStopwords are filler words so common in published score titles that
// they carry no signal when comparing two titles.
var titleStopwords = map[string]bool{
	"a":   true,
	"an":  true,
	"and": true,
	"for": true,
	"no":  true,
	"of":  true,
	"op":  true,
	"the": true,
	"to":  true,
}

// numberingForms folds the numbering styles publishers use onto plain digits
// so "Suite No. 2", "2nd Suite", and "Suite II" tokenize alike.
var numberingForms = map[string]string{
	"1st": "1", "2nd": "2", "3rd": "3", "4th": "4", "5th": "5",
	"6th": "6", "7th": "7", "8th": "8", "9th": "9",
	"ii": "2", "iii": "3", "iv": "4",
	"vi": "6", "vii": "7", "viii": "8", "ix": "9",
}

// TitleTokens breaks a piece title into comparison tokens: lowercased, split
// on non-alphanumeric runs, stopwords dropped, movement and suite numbering
// folded onto digits.
func TitleTokens(title string) []string {
	lowered := strings.ToLower(title)
	raw := titleSplitPattern.Split(lowered, -1)
	tokens := make([]string, 0, len(raw))
	for _, token := range raw {
		if token == "" || titleStopwords[token] {
			continue
		}
		if digits, ok := numberingForms[token]; ok {
			token = digits
		}
		tokens = append(tokens, token)
	}
	return tokens
}
