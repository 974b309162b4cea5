package utils

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomID(t *testing.T) {
	id, err := GenerateRandomID(16)
	require.NoError(t, err)
	assert.Len(t, id, 16)
	assert.Regexp(t, "^[0-9a-f]+$", id)

	other, err := GenerateRandomID(16)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestGenerateUUID(t *testing.T) {
	uuidPattern := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateUUID()
		require.NoError(t, err)
		assert.Regexp(t, uuidPattern, id)
		assert.False(t, seen[id], "UUID collision: %s", id)
		seen[id] = true
	}
}

func TestGenerateTraceID(t *testing.T) {
	a := GenerateTraceID()
	b := GenerateTraceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestGenerateMessageID(t *testing.T) {
	id, err := GenerateMessageID()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "msg-"))

	parts := strings.Split(id, "-")
	require.Len(t, parts, 3)
	assert.Len(t, parts[1], 16)
}

func TestMustGenerateMessageID(t *testing.T) {
	assert.NotPanics(t, func() {
		id := MustGenerateMessageID()
		assert.NotEmpty(t, id)
	})
}
