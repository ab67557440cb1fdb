package event

import "context"

type suppressKey struct{}

// WithoutEmission marks ctx so that local state changes made while applying an
// incoming event do not emit new network events.
func WithoutEmission(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

// EmissionSuppressed reports whether ctx was marked by WithoutEmission.
func EmissionSuppressed(ctx context.Context) bool {
	v, _ := ctx.Value(suppressKey{}).(bool)
	return v
}
