package instance

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDIsStable(t *testing.T) {
	first := ID()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, ID())
}

func TestResolveTruncatesHash(t *testing.T) {
	got := resolve(func() (string, error) {
		return "0123456789abcdef0123456789abcdef", nil
	})
	assert.Equal(t, "0123456789abcdef", got)
}

func TestResolveFallsBackToRandom(t *testing.T) {
	got := resolve(func() (string, error) { return "", errors.New("no machine id") })
	assert.True(t, strings.HasPrefix(got, "ephemeral-"))
	assert.Len(t, got, len("ephemeral-")+8)
}
