package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/text/language"

	"promptcraft/internal/usage"
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

var countryHeaders = []string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"}

// Country stores the client's best-effort ISO country code in the request
// context, where usage events pick it up.
func Country(lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if country := ResolveCountry(r, lookup); country != "" {
				r = r.WithContext(usage.WithCountry(r.Context(), country))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ResolveCountry checks proxy headers first, then an explicit region in
// Accept-Language, then the GeoIP lookup.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	for _, key := range countryHeaders {
		if val := strings.TrimSpace(r.Header.Get(key)); isCountryCode(val) {
			return strings.ToUpper(val)
		}
	}
	if region := acceptRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup != nil {
		if ip := ClientIP(r); ip != "" {
			if country, err := lookup(ip); err == nil && isCountryCode(country) {
				return strings.ToUpper(country)
			}
		}
	}
	return ""
}

// acceptRegion returns the region of the most preferred language tag that
// names one explicitly.
func acceptRegion(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil {
		return ""
	}
	for _, tag := range tags {
		region, conf := tag.Region()
		if conf == language.Exact && region.IsCountry() {
			return region.String()
		}
	}
	return ""
}

func isCountryCode(v string) bool {
	if len(v) != 2 {
		return false
	}
	for _, c := range strings.ToUpper(v) {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}
