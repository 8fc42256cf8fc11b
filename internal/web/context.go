package web

import (
	"context"
	"net/http"

	"github.com/JonMunkholm/palaystore/internal/core"
)

// WithRequestMetadata records the client IP and User-Agent on ctx so the
// store's mutation log can say who changed what.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	return core.ContextWithActor(ctx, core.Actor{
		IPAddress: clientIP(r), // already rewritten by TrustedRealIP
		UserAgent: r.Header.Get("User-Agent"),
		Source:    "http",
	})
}
