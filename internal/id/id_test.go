package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrefixAndOrder(t *testing.T) {
	t.Parallel()

	a := New("trd")
	b := New("trd")

	assert.True(t, strings.HasPrefix(a, "trd_"))
	assert.Less(t, a, b)
}

func TestNewWithoutPrefix(t *testing.T) {
	t.Parallel()

	assert.Len(t, New(""), 26)
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	got, ok := Time(NewAt("snap", ts))
	require.True(t, ok)
	assert.True(t, got.Equal(ts), "got %s", got)

	_, ok = Time("not-an-id")
	assert.False(t, ok)
}
