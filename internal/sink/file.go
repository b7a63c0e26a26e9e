package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oicur0t/logdedup/pkg/models"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Format selects the encoding of the output file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var ErrInvalidFormat = errors.New("invalid output format")

// ParseFormat validates an output format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(name)); f {
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q (want json or yaml)", ErrInvalidFormat, name)
	}
}

// FileSink writes summaries to a single file, replacing any previous content
type FileSink struct {
	path   string
	format Format
	logger *zap.Logger
}

// NewFileSink creates a file sink. Nothing touches the filesystem until Write.
func NewFileSink(path string, format Format, logger *zap.Logger) *FileSink {
	return &FileSink{
		path:   path,
		format: format,
		logger: logger,
	}
}

// Name implements Sink
func (s *FileSink) Name() string {
	return "file"
}

// Write encodes summaries and writes them to the file. A file left
// incomplete by a write error is removed.
func (s *FileSink) Write(_ context.Context, summaries []models.Summary) error {
	data, err := Encode(summaries, s.format)
	if err != nil {
		return err
	}

	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	_, writeErr := file.Write(data)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		if rmErr := os.Remove(s.path); rmErr != nil {
			s.logger.Warn("Failed to remove incomplete output file",
				zap.String("file", s.path),
				zap.Error(rmErr))
		}
		return fmt.Errorf("failed to write output file: %w", err)
	}

	s.logger.Info("Summaries written",
		zap.String("file", s.path),
		zap.String("format", string(s.format)),
		zap.Int("summaries", len(summaries)),
		zap.Int("bytes", len(data)))

	return nil
}

// Close implements Sink
func (s *FileSink) Close(context.Context) error {
	return nil
}

// Encode renders summaries as an indented JSON array or a YAML sequence.
// An empty result is encoded as an empty array.
func Encode(summaries []models.Summary, format Format) ([]byte, error) {
	if summaries == nil {
		summaries = []models.Summary{}
	}

	var buf bytes.Buffer
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			return nil, fmt.Errorf("failed to encode summaries to json: %w", err)
		}
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(summaries); err != nil {
			return nil, fmt.Errorf("failed to encode summaries to yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode summaries to yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}

	return buf.Bytes(), nil
}
