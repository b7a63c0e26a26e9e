package reader_test

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/oicur0t/logdedup/internal/reader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func collectLines(t *testing.T, src reader.LineSource) []string {
	t.Helper()
	var lines []string
	for line, err := range src.Lines() {
		require.NoError(t, err)
		lines = append(lines, line)
	}
	return lines
}

func TestScannerSource(t *testing.T) {
	src := reader.NewScannerSource(strings.NewReader("a\r\nb\n\nc"), 0)

	assert.Equal(t, []string{"a", "b", "", "c"}, collectLines(t, src))
	assert.Empty(t, collectLines(t, src), "a source is not restartable")
	assert.NoError(t, src.Close())
}

func TestScannerSource_LineTooLong(t *testing.T) {
	src := reader.NewScannerSource(strings.NewReader(strings.Repeat("x", 64)+"\n"), 16)

	var gotErr error
	for _, err := range src.Lines() {
		gotErr = err
	}
	assert.Error(t, gotErr)
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte("first\r\nsecond\nthird"), 0644))

	src, err := reader.OpenFile(path, 0, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []string{"first", "second", "third"}, collectLines(t, src))
}

func TestOpenFile_Missing(t *testing.T) {
	_, err := reader.OpenFile(filepath.Join(t.TempDir(), "missing.log"), 0, zap.NewNop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(path, []byte(validLine+"\n"), 0644))

	src, err := reader.Open(path, 0, zap.NewNop())
	require.NoError(t, err)
	defer src.Close()

	assert.Len(t, collectLines(t, src), 1)
}

func TestRecords(t *testing.T) {
	input := validLine + "\n" + strings.Replace(validLine, `"remote_addr":"1.2.3.4"`, `"remote_addr":"5.6.7.8"`, 1) + "\n"
	src := reader.NewScannerSource(strings.NewReader(input), 0)

	var addrs []string
	for rec, err := range reader.Records(src) {
		require.NoError(t, err)
		addrs = append(addrs, rec.RemoteAddr)
	}
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8"}, addrs)
}

func TestRecords_StopsAtFirstBadLine(t *testing.T) {
	input := strings.Join([]string{validLine, validLine, `{"broken":`, validLine}, "\n")
	src := reader.NewScannerSource(strings.NewReader(input), 0)

	var (
		decoded int
		errs    []error
	)
	for _, err := range reader.Records(src) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		decoded++
	}

	assert.Equal(t, 2, decoded)
	require.Len(t, errs, 1)

	var lineErr *reader.LineError
	require.True(t, errors.As(errs[0], &lineErr))
	assert.Equal(t, 3, lineErr.Line)
}

func TestLineSizeLimit_SameForFileAndScanner(t *testing.T) {
	const limit = 32

	testCases := []struct {
		name    string
		line    string
		wantErr bool
	}{
		{name: "at limit", line: strings.Repeat("x", limit)},
		{name: "at limit with crlf", line: strings.Repeat("x", limit) + "\r"},
		{name: "one over limit", line: strings.Repeat("x", limit+1), wantErr: true},
		{name: "far over limit", line: strings.Repeat("x", 10*limit), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			content := "ok\n" + tc.line + "\n"

			path := filepath.Join(t.TempDir(), "access.log")
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
			fileSrc, err := reader.OpenFile(path, limit, zap.NewNop())
			require.NoError(t, err)
			defer fileSrc.Close()

			sources := map[string]reader.LineSource{
				"file":    fileSrc,
				"scanner": reader.NewScannerSource(strings.NewReader(content), limit),
			}

			for name, src := range sources {
				var (
					lines  []string
					gotErr error
				)
				for line, err := range src.Lines() {
					if err != nil {
						gotErr = err
						continue
					}
					lines = append(lines, line)
				}

				if tc.wantErr {
					assert.ErrorIs(t, gotErr, bufio.ErrTooLong, name)
					assert.Equal(t, []string{"ok"}, lines, name)
				} else {
					assert.NoError(t, gotErr, name)
					assert.Equal(t, []string{"ok", strings.Repeat("x", limit)}, lines, name)
				}
			}
		})
	}
}
