// Package redistest starts an in-process store for package tests.
package redistest

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// New starts a miniredis server and a client bound to it. Both are closed
// when the test ends.
func New(t testing.TB) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(Options(mr.Addr()))
	t.Cleanup(func() {
		_ = rdb.Close()
	})
	return mr, rdb
}

// Options returns client options suited to the test server.
func Options(addr string) *redis.Options {
	return &redis.Options{
		Addr:            addr,
		Protocol:        2,
		DisableIdentity: true,
	}
}
