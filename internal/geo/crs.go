package geo

import (
	"strconv"
	"strings"
)

// DefaultCRS is BC Albers, the canonical reference system for harvested layers.
const DefaultCRS = "EPSG:3005"

// NormalizeCRS canonicalizes an authority string: "epsg:3005", "EPSG:3005" and
// "3005" all become "EPSG:3005". Unrecognized forms are returned trimmed.
func NormalizeCRS(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if _, err := strconv.Atoi(s); err == nil {
		return "EPSG:" + s
	}
	// OGC URNs, e.g. urn:ogc:def:crs:EPSG::3005
	if strings.HasPrefix(strings.ToLower(s), "urn:ogc:def:crs:") {
		parts := strings.Split(s, ":")
		if len(parts) >= 6 {
			auth := strings.ToUpper(parts[4])
			code := parts[len(parts)-1]
			if auth != "" && code != "" {
				return auth + ":" + code
			}
		}
	}
	auth, code, ok := strings.Cut(s, ":")
	if !ok {
		return s
	}
	return strings.ToUpper(strings.TrimSpace(auth)) + ":" + strings.TrimSpace(code)
}

// SameCRS reports whether a and b name the same reference system.
func SameCRS(a, b string) bool {
	na, nb := NormalizeCRS(a), NormalizeCRS(b)
	return na != "" && na == nb
}

// SRID returns the numeric EPSG code of crs, or 0 when crs is not an EPSG code.
func SRID(crs string) int {
	auth, code, ok := strings.Cut(NormalizeCRS(crs), ":")
	if !ok || auth != "EPSG" {
		return 0
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}
