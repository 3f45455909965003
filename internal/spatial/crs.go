// Package spatial holds the query geometry model and the coordinate reference
// system support used to filter the tile catalog and compute areas.
//
// Geographic systems on WGS84, NAD83 and NAD83(CSRS) are treated as
// interchangeable; the datum offset between them is well under a metre and
// below the precision of a tile index.
package spatial

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CRS identifies a coordinate reference system by EPSG code.
type CRS int

// Known geographic systems.
const (
	WGS84     CRS = 4326
	NAD83     CRS = 4269
	NAD83CSRS CRS = 4617
)

// String renders the CRS as an authority string, e.g. "EPSG:4617".
func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// EPSG returns the numeric EPSG code.
func (c CRS) EPSG() int { return int(c) }

// ParseCRS accepts "EPSG:4617", "epsg:4617" or "4617".
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		if !strings.EqualFold(s[:idx], "epsg") {
			return 0, eris.Errorf("spatial: unsupported CRS authority %q", s[:idx])
		}
		s = s[idx+1:]
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		return 0, eris.Wrapf(err, "spatial: parse CRS %q", s)
	}
	c := CRS(code)
	if !c.IsGeographic() && !c.IsUTM() {
		return 0, eris.Errorf("spatial: unsupported CRS %s", c)
	}
	return c, nil
}

// IsGeographic reports whether coordinates are longitude/latitude degrees.
func (c CRS) IsGeographic() bool {
	switch c {
	case WGS84, NAD83, NAD83CSRS:
		return true
	}
	return false
}

// IsUTM reports whether c is a UTM zone of WGS84 (326xx, 327xx) or NAD83 (269xx).
func (c CRS) IsUTM() bool {
	_, _, ok := c.UTMZone()
	return ok
}

// UTMZone returns the zone number and hemisphere of a UTM CRS.
func (c CRS) UTMZone() (zone int, north bool, ok bool) {
	code := int(c)
	switch {
	case code >= 32601 && code <= 32660:
		return code - 32600, true, true
	case code >= 32701 && code <= 32760:
		return code - 32700, false, true
	case code >= 26901 && code <= 26923:
		return code - 26900, true, true
	}
	return 0, false, false
}

// UTMFor returns the WGS84 UTM CRS covering the given longitude/latitude.
func UTMFor(lon, lat float64) CRS {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	if lat >= 0 {
		return CRS(32600 + zone)
	}
	return CRS(32700 + zone)
}
