package reader

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"

	"github.com/nxadm/tail"
	"go.uber.org/zap"
)

const (
	// DefaultMaxLineSize is the longest line a source accepts, excluding
	// the terminator.
	DefaultMaxLineSize = 1024 * 1024 // 1MB

	// StdinPath selects standard input instead of a file.
	StdinPath = "-"
)

// LineSource produces the lines of an input exactly once
type LineSource interface {
	// Lines yields each line without its terminator. A read error is
	// yielded once and ends the sequence.
	Lines() iter.Seq2[string, error]
	Close() error
}

// Open returns a source for path, or for stdin when path is "-". Both
// reject lines longer than maxLineSize bytes.
func Open(path string, maxLineSize int, logger *zap.Logger) (LineSource, error) {
	if path == StdinPath {
		logger.Debug("Reading input from stdin")
		return NewScannerSource(os.Stdin, maxLineSize), nil
	}
	return OpenFile(path, maxLineSize, logger)
}

func checkLineSize(line string, maxLineSize int) error {
	if len(line) > maxLineSize {
		return fmt.Errorf("%w: %d bytes, limit is %d", bufio.ErrTooLong, len(line), maxLineSize)
	}
	return nil
}

// ScannerSource reads lines from an io.Reader
type ScannerSource struct {
	scanner     *bufio.Scanner
	maxLineSize int
	consumed    bool
}

// NewScannerSource creates a source over r. The caller keeps ownership of r.
func NewScannerSource(r io.Reader, maxLineSize int) *ScannerSource {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}
	// Room for a CRLF terminator; the length limit itself is checked per line.
	bufSize := maxLineSize + 2
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, bufSize)), bufSize)
	return &ScannerSource{scanner: scanner, maxLineSize: maxLineSize}
}

// Lines implements LineSource
func (s *ScannerSource) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.consumed {
			return
		}
		s.consumed = true

		for s.scanner.Scan() {
			line := s.scanner.Text()
			if err := checkLineSize(line, s.maxLineSize); err != nil {
				yield("", fmt.Errorf("failed to read input: %w", err))
				return
			}
			if !yield(line, nil) {
				return
			}
		}
		if err := s.scanner.Err(); err != nil {
			yield("", fmt.Errorf("failed to read input: %w", err))
		}
	}
}

// Close implements LineSource
func (s *ScannerSource) Close() error {
	return nil
}

// FileSource reads a file once, start to end, through the tail library
type FileSource struct {
	path        string
	tail        *tail.Tail
	maxLineSize int
	logger      *zap.Logger
	consumed    bool
}

// OpenFile opens path for a single non-following pass
func OpenFile(path string, maxLineSize int, logger *zap.Logger) (*FileSource, error) {
	if maxLineSize <= 0 {
		maxLineSize = DefaultMaxLineSize
	}

	t, err := tail.TailFile(path, tail.Config{
		Follow:    false,
		ReOpen:    false,
		MustExist: true,
		Poll:      true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open input file %s: %w", path, err)
	}

	logger.Debug("Opened input file", zap.String("file", path))

	return &FileSource{
		path:        path,
		tail:        t,
		maxLineSize: maxLineSize,
		logger:      logger,
	}, nil
}

// Lines implements LineSource
func (s *FileSource) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if s.consumed {
			return
		}
		s.consumed = true

		for line := range s.tail.Lines {
			if line.Err != nil {
				yield("", fmt.Errorf("failed to read %s: %w", s.path, line.Err))
				return
			}
			text := strings.TrimSuffix(line.Text, "\r")
			if err := checkLineSize(text, s.maxLineSize); err != nil {
				yield("", fmt.Errorf("failed to read %s: %w", s.path, err))
				return
			}
			if !yield(text, nil) {
				return
			}
		}

		// The channel closes before the tail goroutine records its exit
		// reason, so wait for it.
		if err := s.tail.Wait(); err != nil {
			yield("", fmt.Errorf("failed to read %s: %w", s.path, err))
		}
	}
}

// Close stops the tail goroutine and releases the file
func (s *FileSource) Close() error {
	// Unblock a pending send if the caller stopped early.
	go func() {
		for range s.tail.Lines {
		}
	}()

	if err := s.tail.Stop(); err != nil {
		return fmt.Errorf("failed to close %s: %w", s.path, err)
	}

	s.logger.Debug("Closed input file", zap.String("file", s.path))
	return nil
}
