package resolver

import (
	"slices"

	"github.com/sells-group/canlidar/internal/catalog"
)

// NearestYear keeps the records whose resolved year is closest to target.
// Undated records are dropped. chosen is nil when no record has a year.
//
// Two distinct years can be equally close (target-d and target+d). The more
// recent year is kept and both candidates are returned in tied.
func NearestYear(records []catalog.TileRecord, target int) (kept []catalog.TileRecord, chosen *int, tied []int) {
	years := distinctYears(records)
	if len(years) == 0 {
		return nil, nil, nil
	}

	best := years[0]
	bestDelta := absInt(best - target)
	for _, y := range years[1:] {
		d := absInt(y - target)
		switch {
		case d < bestDelta:
			best, bestDelta = y, d
			tied = nil
		case d == bestDelta:
			// years is ascending, so y is the more recent candidate.
			tied = []int{best, y}
			best = y
		}
	}

	for _, rec := range records {
		if rec.Year != nil && *rec.Year == best {
			kept = append(kept, rec)
		}
	}
	return kept, &best, tied
}

func distinctYears(records []catalog.TileRecord) []int {
	var years []int
	for _, rec := range records {
		if rec.Year != nil && !slices.Contains(years, *rec.Year) {
			years = append(years, *rec.Year)
		}
	}
	slices.Sort(years)
	return years
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
