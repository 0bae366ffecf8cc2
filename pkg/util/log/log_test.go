package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-kit/log/level"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaveworks/common/logging"
)

func TestNewLoggerFiltersLevel(t *testing.T) {
	var lvl logging.Level
	require.NoError(t, lvl.Set("warn"))
	var format logging.Format
	require.NoError(t, format.Set("logfmt"))

	var buf bytes.Buffer
	l := NewLogger(&buf, lvl, format)

	level.Info(l).Log("msg", "hidden")
	level.Warn(l).Log("msg", "shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "level=warn")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestNewLoggerJSON(t *testing.T) {
	var format logging.Format
	require.NoError(t, format.Set("json"))

	var buf bytes.Buffer
	level.Info(NewLogger(&buf, logging.Level{}, format)).Log("msg", "started")

	assert.Contains(t, buf.String(), `"msg":"started"`)
}
