package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l, err := New("debug", "json", &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())

	Component(l, "risk").WithField("symbol", "AAPL").Info("checked")
	assert.Contains(t, buf.String(), `"component":"risk"`)
	assert.Contains(t, buf.String(), `"symbol":"AAPL"`)
}

func TestNewRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := New("loud", "text", nil)
	assert.Error(t, err)

	_, err = New("info", "xml", nil)
	assert.Error(t, err)
}
