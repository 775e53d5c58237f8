// ABOUTME: Carries the authenticated caller through request handlers.
// ABOUTME: WithCaller/CallerFrom wrap context values under a private key.

package auth

import "context"

// Caller identifies who made a request.
type Caller struct {
	Subject string
}

type callerKey struct{}

// WithCaller returns a copy of ctx carrying c.
func WithCaller(ctx context.Context, c *Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller stored in ctx, or nil for anonymous requests.
func CallerFrom(ctx context.Context) *Caller {
	c, _ := ctx.Value(callerKey{}).(*Caller)
	return c
}
