package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "app.log")
	file, err := SetFileOutput(path)
	require.NoError(t, err)
	require.NotNil(t, file)
	defer file.Close()
	defer SetOutput(os.Stdout)

	Infof("file sink check %d", 42)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "file sink check 42")
}

func TestSetFileOutputEmptyPath(t *testing.T) {
	file, err := SetFileOutput("  ")
	require.NoError(t, err)
	assert.Nil(t, file)
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	defer SetLevel("info")

	SetLevel("warn")
	Infof("below threshold")
	Warnf("above threshold")
	assert.NotContains(t, buf.String(), "below threshold")
	assert.Contains(t, buf.String(), "above threshold")
}
