package prng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderDeterministic(t *testing.T) {
	a, b := make([]byte, 13), make([]byte, 13)
	_, err := New(42).Read(a)
	require.NoError(t, err)
	_, err = New(42).Read(b)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c := make([]byte, 13)
	_, _ = New(43).Read(c)
	assert.NotEqual(t, a, c)
}

func TestReaderOddLengths(t *testing.T) {
	for n := 0; n < 17; n++ {
		p := make([]byte, n)
		got, err := New(1).Read(p)
		require.NoError(t, err)
		assert.Equal(t, n, got)
	}
}
