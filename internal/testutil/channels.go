// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// DefaultTimeout bounds waits for work done on another goroutine.
const DefaultTimeout = 5 * time.Second

// WaitForSignal fails t unless ch delivers within timeout.
func WaitForSignal(t testing.TB, ch <-chan struct{}, timeout time.Duration, msg string) {
	t.Helper()
	Receive(t, ch, timeout, msg)
}

// Receive returns the next value from ch, failing t after timeout.
func Receive[T any](t testing.TB, ch <-chan T, timeout time.Duration, msg string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		require.FailNow(t, msg)
		var zero T
		return zero
	}
}
