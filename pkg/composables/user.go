package composables

import (
	"context"
	"errors"
)

var ErrNoUser = errors.New("no user found in context")

type userKey struct{}
type requestIDKey struct{}

// WithUserID stores the acting user id; authentication happens upstream.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userKey{}, id)
}

func UseUserID(ctx context.Context) (string, error) {
	id, ok := ctx.Value(userKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoUser
	}
	return id, nil
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func UseRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
