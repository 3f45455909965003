// Package year extracts acquisition years from catalog metadata tokens.
package year

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MinYear is the earliest acquisition year accepted from metadata.
const MinYear = 2000

var digitRun = regexp.MustCompile(`\d+`)

// Find returns the smallest four-digit window of token that parses as a year
// in [MinYear, currentYear]. Windows containing non-digits are skipped.
func Find(token string, currentYear int) (int, bool) {
	best := 0
	found := false
	for i := 0; i+4 <= len(token); i++ {
		window := token[i : i+4]
		if !isDigits(window) {
			continue
		}
		v, err := strconv.Atoi(window)
		if err != nil || v < MinYear || v > currentYear {
			continue
		}
		if !found || v < best {
			best = v
			found = true
		}
	}
	return best, found
}

// FindNow is Find bounded by the current calendar year.
func FindNow(token string) (int, bool) {
	return Find(token, time.Now().Year())
}

// ProjectYear returns the first purely numeric token of an underscore-separated
// project name.
func ProjectYear(project string) *int {
	for _, part := range strings.Split(project, "_") {
		if part == "" || !isDigits(part) {
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}

// URLYear takes the numerically largest digit run in the final path segment of
// rawURL and passes it through Find.
func URLYear(rawURL string, currentYear int) *int {
	segment := rawURL
	if i := strings.LastIndex(rawURL, "/"); i >= 0 {
		segment = rawURL[i+1:]
	}

	largest := ""
	for _, run := range digitRun.FindAllString(segment, -1) {
		run = trimLeadingZeros(run)
		if greater(run, largest) {
			largest = run
		}
	}
	if largest == "" {
		return nil
	}

	v, ok := Find(largest, currentYear)
	if !ok {
		return nil
	}
	return &v
}

// TileYear returns the first digit run of the tile name that Find accepts.
func TileYear(tile string, currentYear int) *int {
	for _, run := range digitRun.FindAllString(tile, -1) {
		if v, ok := Find(trimLeadingZeros(run), currentYear); ok {
			return &v
		}
	}
	return nil
}

// Resolve picks the acquisition year from the raw signals. Precedence is
// project, then url, then tile.
func Resolve(project, url, tile *int) *int {
	switch {
	case project != nil:
		return project
	case url != nil:
		return url
	case tile != nil:
		return tile
	default:
		return nil
	}
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// trimLeadingZeros normalizes a digit run the way an integer parse would,
// keeping a single "0" for all-zero input.
func trimLeadingZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" && s != "" {
		return "0"
	}
	return t
}

// greater compares two normalized digit runs numerically without parsing, so
// arbitrarily long runs cannot overflow.
func greater(a, b string) bool {
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
