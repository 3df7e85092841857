package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInterruptHandlers(t *testing.T) {
	var order []int
	addInterruptHandler(func() { order = append(order, 1) })
	addInterruptHandler(func() { order = append(order, 2) })

	simulateInterrupt()
	<-interruptHandlersDone
	require.Equal(t, []int{2, 1}, order)

	// Registering after the handlers ran must not block.
	var late bool
	addInterruptHandler(func() { late = true })
	require.True(t, late)
}
