// Package snsctx carries per-invocation switches through bus calls.
package snsctx

import "context"

type key int

const verboseKey key = iota

// IsVerbose reports whether bus traffic dumps were requested for ctx.
func IsVerbose(ctx context.Context) bool {
	verbose, _ := ctx.Value(verboseKey).(bool)
	return verbose
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, verboseKey, value)
}
