package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/oicur0t/logdedup/internal/aggregator"
	sink_mock "github.com/oicur0t/logdedup/internal/mocks/sink"
	"github.com/oicur0t/logdedup/internal/pipeline"
	"github.com/oicur0t/logdedup/internal/reader"
	"github.com/oicur0t/logdedup/internal/sink"
	"github.com/oicur0t/logdedup/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
)

func line(t *testing.T, addr, ts, request string) string {
	t.Helper()
	data, err := json.Marshal(models.Record{
		TimeISO8601:        ts,
		RemoteAddr:         addr,
		RemoteUser:         "-",
		Request:            request,
		HTTPReferer:        "https://example.com/",
		HTTPUserAgent:      "Mozilla/5.0 (X11; Linux x86_64)",
		HTTPAccept:         "text/html",
		HTTPXForwardedFor:  "-",
		HTTPCookie:         "-",
		Status:             "200",
		BytesSent:          "512",
		BodyBytesSent:      "256",
		Connection:         "42",
		ConnectionRequests: "1",
	})
	require.NoError(t, err)
	return string(data)
}

func source(lines ...string) reader.LineSource {
	return reader.NewScannerSource(strings.NewReader(strings.Join(lines, "\n")+"\n"), 0)
}

func expectedSummary(request string, count int, earliest, latest string) models.Summary {
	return models.Summary{
		Signature: models.Signature{
			Request:           request,
			HTTPReferer:       "https://example.com/",
			HTTPUserAgent:     "Mozilla/5.0 (X11; Linux x86_64)",
			HTTPAccept:        "text/html",
			HTTPXForwardedFor: "-",
			HTTPCookie:        "-",
		},
		Count:    count,
		Earliest: earliest,
		Latest:   latest,
	}
}

func TestPipeline_Run(t *testing.T) {
	input := func(t *testing.T) reader.LineSource {
		return source(
			line(t, "1.2.3.4", "T1", "GET / HTTP/1.1"),
			line(t, "9.9.9.9", "T2", "GET / HTTP/1.1"),
			line(t, "1.2.3.4", "T3", "GET / HTTP/1.1"),
			line(t, "5.6.7.8", "T4", "GET / HTTP/1.1"),
			line(t, "1.2.3.4", "T5", "GET / HTTP/1.1"),
		)
	}

	testCases := []struct {
		name      string
		threshold int
		want      []models.Summary
	}{
		{
			name:      "group reaches threshold",
			threshold: 2,
			want:      []models.Summary{expectedSummary("GET / HTTP/1.1", 3, "T1", "T5")},
		},
		{
			name:      "group below threshold",
			threshold: 4,
			want:      []models.Summary{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			ctx := context.Background()
			mockSink := sink_mock.NewMockSink(ctrl)
			mockSink.EXPECT().Write(ctx, tc.want).Return(nil)

			p := pipeline.New(input(t), "1.2.3.4", tc.threshold, []sink.Sink{mockSink}, zap.NewNop())
			result, err := p.Run(ctx)

			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Summaries)
			assert.Equal(t, aggregator.Stats{Lines: 5, Matched: 3, Signatures: 1}, result.Stats)
		})
	}
}

func TestPipeline_Run_MalformedLineWritesNothing(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// No expectations: any Write call fails the test.
	mockSink := sink_mock.NewMockSink(ctrl)

	src := source(
		line(t, "1.2.3.4", "T1", "GET / HTTP/1.1"),
		line(t, "1.2.3.4", "T2", "GET / HTTP/1.1"),
		`{"time_iso8601":"T3","remote_addr":"1.2.3.4"}`,
		line(t, "1.2.3.4", "T4", "GET / HTTP/1.1"),
	)

	p := pipeline.New(src, "1.2.3.4", 0, []sink.Sink{mockSink}, zap.NewNop())
	_, err := p.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, reader.ErrMissingField)

	var lineErr *reader.LineError
	require.True(t, errors.As(err, &lineErr))
	assert.Equal(t, 3, lineErr.Line)
}

func TestPipeline_Run_SinkErrorStops(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	errDisk := errors.New("disk full")

	first := sink_mock.NewMockSink(ctrl)
	first.EXPECT().Write(gomock.Any(), gomock.Any()).Return(errDisk)
	first.EXPECT().Name().Return("file")

	// Never reached.
	second := sink_mock.NewMockSink(ctrl)

	src := source(line(t, "1.2.3.4", "T1", "GET / HTTP/1.1"))
	p := pipeline.New(src, "1.2.3.4", 1, []sink.Sink{first, second}, zap.NewNop())
	_, err := p.Run(context.Background())

	assert.ErrorIs(t, err, errDisk)
	assert.Contains(t, err.Error(), "sink file")
}

func TestPipeline_Run_Idempotent(t *testing.T) {
	lines := []string{
		line(t, "1.2.3.4", "T1", "GET /a HTTP/1.1"),
		line(t, "1.2.3.4", "T2", "POST /b HTTP/1.1"),
		line(t, "1.2.3.4", "T3", "GET /a HTTP/1.1"),
		line(t, "1.2.3.4", "T4", "POST /b HTTP/1.1"),
	}

	run := func() []models.Summary {
		result, err := pipeline.New(source(lines...), "1.2.3.4", 2, nil, zap.NewNop()).Run(context.Background())
		require.NoError(t, err)
		return result.Summaries
	}

	first := run()
	assert.Len(t, first, 2)
	assert.ElementsMatch(t, first, run())
}
