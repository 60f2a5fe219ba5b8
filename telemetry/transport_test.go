package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestInstrumentedTransportRecordsStatus(t *testing.T) {
	reader := setupTestMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil)}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	h := findHistogram(t, collect(t, reader), "togglemark_webhook_duration_seconds")
	require.Len(t, h.DataPoints, 1)
	require.True(t, hasAttr(h.DataPoints[0].Attributes, "outcome", "status_2xx"))
}

func TestInstrumentedTransportRecordsError(t *testing.T) {
	reader := setupTestMetrics(t)

	tr := NewInstrumentedTransport(failingTransport{})
	req := httptest.NewRequest(http.MethodPost, "http://127.0.0.1:1/hook", nil)

	_, err := tr.RoundTrip(req)
	require.Error(t, err)

	h := findHistogram(t, collect(t, reader), "togglemark_webhook_duration_seconds")
	require.True(t, hasAttr(h.DataPoints[0].Attributes, "outcome", "error"))
}
