package kilnlog_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kiln-db/kiln/internal/kilnlog"
	"github.com/stretchr/testify/require"
)

func TestLoggerFormatsLevelAndMessage(t *testing.T) {
	var buf bytes.Buffer
	l := kilnlog.New(&buf, kilnlog.LevelInfo)
	l.Infof("flushed %d bytes", 512)

	out := buf.String()
	require.True(t, strings.Contains(out, "INFO"))
	require.True(t, strings.Contains(out, "flushed 512 bytes"))
}

func TestLoggerDropsBelowConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	l := kilnlog.New(&buf, kilnlog.LevelWarn)
	l.Debugf("should not appear")
	l.Infof("also should not appear")
	require.Empty(t, buf.String())

	l.Warnf("this one should appear")
	require.Contains(t, buf.String(), "WARN")
}

func TestDiscardDropsEverything(t *testing.T) {
	kilnlog.Discard.Errorf("this goes nowhere, just must not panic")
}
