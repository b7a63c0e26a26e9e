package reader

import (
	"fmt"
	"iter"

	"github.com/oicur0t/logdedup/pkg/models"
)

// LineError reports the input line at which reading or decoding failed
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// Records decodes every line of src. The first failure is yielded as a
// *LineError and ends the sequence.
func Records(src LineSource) iter.Seq2[models.Record, error] {
	return func(yield func(models.Record, error) bool) {
		lineNumber := 0
		for line, err := range src.Lines() {
			lineNumber++
			if err != nil {
				yield(models.Record{}, &LineError{Line: lineNumber, Err: err})
				return
			}

			rec, err := Decode(line)
			if err != nil {
				yield(models.Record{}, &LineError{Line: lineNumber, Err: err})
				return
			}

			if !yield(rec, nil) {
				return
			}
		}
	}
}
