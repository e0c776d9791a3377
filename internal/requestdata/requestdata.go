package requestdata

import (
	"context"
)

type contextKey struct{}

// RequestData is the per-request identity resolved by the auth middleware.
// Every account variant resolves to this same record.
type RequestData struct {
	UserID int64
	Email  string
	Admin  bool
}

func WithRequestData(ctx context.Context, rd *RequestData) context.Context {
	return context.WithValue(ctx, contextKey{}, rd)
}

func GetRequestData(ctx context.Context) *RequestData {
	rd, _ := ctx.Value(contextKey{}).(*RequestData)
	return rd
}
