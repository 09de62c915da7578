// Package testcontext gives tests a context carrying a text o11y provider, so spans
// from the code under test show up in `go test -v` output.
package testcontext

import (
	"context"

	"github.com/securecomm/harness/config/o11y"
)

// ctx is initialised once at package load; the beeline underneath is a global singleton.
var ctx = newContext()

// Background returns a context for use in tests which contains a working o11y, so you get logs.
func Background() context.Context {
	return ctx
}

func newContext() context.Context {
	cx, _, err := o11y.Setup(context.Background(), o11y.Config{
		Service: "harness-test",
		Version: "test",
		Format:  "text",
	})
	if err != nil {
		panic(err)
	}
	return cx
}
