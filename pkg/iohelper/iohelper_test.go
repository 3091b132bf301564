package iohelper

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyLimitsSize(t *testing.T) {
	body, err := ReadBody(strings.NewReader(strings.Repeat("a", 100)), 10)
	require.NoError(t, err)
	assert.Len(t, body, 10)
}

func TestReadBodyNilReader(t *testing.T) {
	body, err := ReadBody(nil, DefaultMaxBodySize)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestDrainAndCloseNil(t *testing.T) {
	assert.NoError(t, DrainAndClose(nil))
}
