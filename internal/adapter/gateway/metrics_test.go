package gateway

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isaac-client/internal/domain"
	"isaac-client/internal/usecase/dispatch"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()

	m.StateChanged(domain.StateConnecting)
	m.StateChanged(domain.StateOpen)
	assert.Equal(t, float64(domain.StateOpen), testutil.ToFloat64(m.state))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))

	m.MessageReceived(100)
	m.MessageReceived(50)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.messages))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.messageBytes))

	m.FrameHandled(dispatch.OutcomeDelivered, nil)
	m.FrameHandled(dispatch.OutcomeDelivered, nil)
	m.FrameHandled(dispatch.OutcomeDropped, fmt.Errorf("wrap: %w", domain.ErrMalformedBase64))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.frames.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.frames.WithLabelValues("dropped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decodeErrors.WithLabelValues(string(domain.CodeMalformedBase64))))

	m.MessageSent("observe", true)
	m.MessageSent("feedback", false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent.WithLabelValues("observe", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesSent.WithLabelValues("feedback", "error")))

	m.StateChanged(domain.StateClosed)
	assert.Equal(t, float64(domain.StateClosed), testutil.ToFloat64(m.state))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))
}

func TestMetricsCounterFunc(t *testing.T) {
	m := NewMetrics()
	var stale uint64 = 7
	require.NoError(t, m.AddCounterFunc("frames_stale_total", "Frames rejected as stale", func() float64 {
		return float64(stale)
	}))
	require.Error(t, m.AddCounterFunc("frames_stale_total", "duplicate", func() float64 { return 0 }))

	count, err := testutil.GatherAndCount(m.Registry(), "isaac_frames_stale_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.MessageReceived(10)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "isaac_messages_received_total 1"), body)
	assert.True(t, strings.Contains(body, "go_goroutines"), "go collector missing")
}
