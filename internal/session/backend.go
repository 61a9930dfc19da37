package session

import (
	"context"
)

// Keys of the two durable entries that make up a session record.
const (
	KeyCredential = "credential"
	KeyProfile    = "profile"
)

// Backend is the durable key-value storage of one browser context.
type Backend interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}
