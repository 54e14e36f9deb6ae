// Package duration turns travel-time phrases such as "1 hr 5 min" into minutes.
package duration

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const (
	unitHour   = "hr"
	unitMinute = "min"
)

var unitAliases = map[string]string{
	"hr":      unitHour,
	"hrs":     unitHour,
	"hour":    unitHour,
	"hours":   unitHour,
	"min":     unitMinute,
	"mins":    unitMinute,
	"minute":  unitMinute,
	"minutes": unitMinute,
}

// Parse sums every "<number> <unit>" pair in text and returns the total in
// minutes. It reports false when no pair was found or the total is not positive.
func Parse(text string) (float64, bool) {
	tokens := tokenize(text)
	var total float64
	found := false
	for i := 0; i+1 < len(tokens); i++ {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			continue
		}
		switch unitAliases[tokens[i+1]] {
		case unitHour:
			total += v * 60
			found = true
			i++
		case unitMinute:
			total += v
			found = true
			i++
		}
	}
	if !found || total <= 0 {
		return 0, false
	}
	return total, true
}

// tokenize lowercases text and splits it on whitespace and on boundaries
// between digits and letters, so "1hr5min" yields [1 hr 5 min].
func tokenize(text string) []string {
	var tokens []string
	var cur strings.Builder
	kind := 0 // 1 number, 2 word
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
		kind = 0
	}
	for _, r := range strings.ToLower(text) {
		var k int
		switch {
		case unicode.IsDigit(r) || (r == '.' && kind == 1):
			k = 1
		case unicode.IsLetter(r):
			k = 2
		default:
			flush()
			continue
		}
		if kind != 0 && k != kind {
			flush()
		}
		kind = k
		cur.WriteRune(r)
	}
	flush()
	return tokens
}

const (
	number        = `\d+(?:\.\d+)?`
	hourPattern   = `(?:hours?|hrs?)`
	minutePattern = `(?:minutes?|mins?)`
	// A fragment starts at the beginning of text or after anything but a
	// digit, and its unit must not run on into another word.
	lead = `(?:^|[^0-9.])`
	tail = `(?:$|[^a-z])`
)

// Ordered from most to least specific; the first pattern with any match wins.
var fragmentPatterns = []*regexp.Regexp{
	fragment(number + `\s*` + hourPattern + `\s*` + number + `\s*` + minutePattern),
	fragment(number + `\s*` + hourPattern),
	fragment(number + `\s*` + minutePattern),
}

func fragment(body string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + lead + `(` + body + `)` + tail)
}

// ExtractFragment finds a duration-like phrase in arbitrary page text.
func ExtractFragment(text string) (string, bool) {
	for _, re := range fragmentPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}
