package audit

import "context"

// ClientInfo describes the caller of the current request.
type ClientInfo struct {
	IP        string
	UserAgent string
	RequestID string
}

type clientKey struct{}

// WithClient attaches client details for Record to pick up.
func WithClient(ctx context.Context, c ClientInfo) context.Context {
	return context.WithValue(ctx, clientKey{}, c)
}

// ClientFrom returns the client details stored by WithClient, or the zero value.
func ClientFrom(ctx context.Context) ClientInfo {
	c, _ := ctx.Value(clientKey{}).(ClientInfo)
	return c
}
