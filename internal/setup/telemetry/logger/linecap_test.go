package logger_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatewarden/gatewarden/internal/setup/telemetry/logger"
)

func TestLineCapWriterPassesThrough(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	writer := logger.NewLineCapWriter(file, 100, path)

	_, err = writer.Write([]byte("hello\nworld\n"))
	require.NoError(t, err)
	require.NoError(t, file.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestLineCapWriterRewritesAtCap(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "test.log")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)

	const maxLines = 5

	writer := logger.NewLineCapWriter(file, maxLines, path)

	// Writing twice the cap triggers a rewrite that keeps the tail
	for i := 0; i < maxLines*2; i++ {
		_, err := fmt.Fprintf(writer, "line-%d\n", i)
		require.NoError(t, err)
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, maxLines)
	assert.Equal(t, "line-5", lines[0])
	assert.Equal(t, "line-9", lines[len(lines)-1])

	// The file stays usable for appends after the rewrite
	_, err = writer.Write([]byte("after-rewrite\n"))
	require.NoError(t, err)

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "after-rewrite")
}
