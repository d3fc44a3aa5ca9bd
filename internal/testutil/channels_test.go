package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReceive(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	ch <- 7
	assert.Equal(t, 7, Receive(t, ch, DefaultTimeout, "no value"))

	done := make(chan struct{})
	close(done)
	WaitForSignal(t, done, DefaultTimeout, "not closed")
}
