package sink

import (
	"context"

	"github.com/oicur0t/logdedup/pkg/models"
)

//go:generate mockgen -source=sink.go -destination=../mocks/sink/mock_sink.go -package=sink_mock

// Sink receives the final summaries of a run
type Sink interface {
	Name() string
	Write(ctx context.Context, summaries []models.Summary) error
	Close(ctx context.Context) error
}
