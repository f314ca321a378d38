package logger

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	SetTimestamps(false)
	t.Cleanup(func() {
		SetOutput(os.Stderr)
		SetVerbose(false)
		SetTimestamps(true)
	})
	return &buf
}

func TestDebugRequiresVerbose(t *testing.T) {
	buf := capture(t)

	Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	SetVerbose(true)
	assert.True(t, IsVerbose())
	Debug("shown %d", 2)
	assert.Equal(t, "[DEBUG] shown 2\n", buf.String())
}

func TestLevels(t *testing.T) {
	buf := capture(t)

	Info("sync %s", "started")
	Warn("slow")
	Error("failed: %v", "boom")

	assert.Equal(t, "[INFO] sync started\n[WARN] slow\n[ERROR] failed: boom\n", buf.String())
}

func TestSection(t *testing.T) {
	buf := capture(t)

	Section("Enrich")
	assert.Empty(t, buf.String())

	SetVerbose(true)
	Section("Enrich")
	assert.Equal(t, "\n=== Enrich ===\n", buf.String())
}
