package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTagsRoundTrip(t *testing.T) {
	r := InjectTags(httptest.NewRequest(http.MethodPost, "/api/messages", nil))

	SetEndpoint(r, "messages")
	SetAction(r, "setReminder")

	tags := GetTags(r)
	require.NotNil(t, tags)
	require.Equal(t, "messages", tags.Endpoint)
	require.Equal(t, "setReminder", tags.Action)
}

func TestTagsWithoutInjection(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/health", nil)

	require.Nil(t, GetTags(r))
	require.NotPanics(t, func() {
		SetEndpoint(r, "health")
		SetAction(r, "none")
	})
}
