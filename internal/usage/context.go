package usage

import "context"

type countryKey struct{}

// WithCountry attaches the client's ISO country code to ctx.
func WithCountry(ctx context.Context, code string) context.Context {
	if code == "" {
		return ctx
	}
	return context.WithValue(ctx, countryKey{}, code)
}

// CountryFromContext returns the code set by WithCountry, or "".
func CountryFromContext(ctx context.Context) string {
	code, _ := ctx.Value(countryKey{}).(string)
	return code
}
