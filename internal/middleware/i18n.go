package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// Countries whose traffic defaults to French prompts. The service targets
// the French second-hand fashion market.
var francophone = map[string]bool{"FR": true, "BE": true, "CH": true, "LU": true, "MC": true}

// I18N attaches the request locale and a best-effort country code to the
// context. Locale resolution order: explicit X-Locale header,
// Accept-Language, country inference, configured default.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	if defaultLocale == "" {
		defaultLocale = "fr"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			country := countryHint(r)
			if country == "" && lookup != nil {
				if code, err := lookup(clientIP(r)); err == nil {
					country = strings.ToUpper(code)
				}
			}
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, country)
			}

			locale := defaultLocale
			switch {
			case r.Header.Get("X-Locale") != "":
				locale = normalizeLocale(r.Header.Get("X-Locale"))
			case r.Header.Get("Accept-Language") != "":
				locale = normalizeLocale(firstLanguage(r.Header.Get("Accept-Language")))
			case country != "":
				if francophone[country] {
					locale = "fr"
				} else {
					locale = "en"
				}
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, LocaleKey, locale)))
		})
	}
}

// LocaleFromContext returns the resolved locale, defaulting to French.
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "fr"
}

// CountryFromContext returns the ISO country code, or empty when unresolved.
func CountryFromContext(ctx context.Context) string {
	v, _ := ctx.Value(CountryKey).(string)
	return v
}

// countryHint extracts a country code from edge-proxy headers or the region
// part of a language tag, without touching the GeoIP database.
func countryHint(r *http.Request) string {
	for _, h := range [...]string{"X-Country-Code", "X-IP-Country", "CF-IPCountry", "X-Appengine-Country"} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return strings.ToUpper(v)
		}
	}
	for _, h := range [...]string{"X-Locale", "Accept-Language"} {
		tag := firstLanguage(r.Header.Get(h))
		if i := strings.IndexAny(tag, "-_"); i > 0 && i+1 < len(tag) {
			return strings.ToUpper(tag[i+1:])
		}
	}
	return ""
}

// firstLanguage picks the first tag of an Accept-Language style list,
// stripping any quality weight.
func firstLanguage(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	return strings.TrimSpace(tag)
}

// normalizeLocale folds any French variant onto "fr"; the rest of the world
// gets English prompts.
func normalizeLocale(tag string) string {
	if strings.HasPrefix(strings.ToLower(tag), "fr") {
		return "fr"
	}
	return "en"
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
