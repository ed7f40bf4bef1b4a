package telemetry

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neilberkman/chatsync/internal/core/apperr"
)

func TestRecorder(t *testing.T) {
	var r Recorder
	r.Event("transcript.attached", "conversation", "c1")
	r.Failure("responder.trigger", apperr.BestEffort("responder.trigger", errors.New("down")))

	assert.True(t, r.HasEvent("transcript.attached"))
	assert.False(t, r.HasEvent("nope"))
	require.Len(t, r.FailuresFor("responder.trigger"), 1)
	assert.True(t, apperr.IsBestEffort(r.FailuresFor("responder.trigger")[0].Err))
}

func TestMetricsReporterCountsAndForwards(t *testing.T) {
	var rec Recorder
	m := NewMetricsReporter(&rec)

	m.Event("directory.created")
	m.Event("directory.created")
	m.Failure("directory.delete", apperr.Remote("directory.delete", errors.New("denied")))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.events.WithLabelValues("directory.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("directory.delete", "remote")))
	assert.Len(t, rec.Events(), 2)
	assert.Len(t, rec.Failures(), 1)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	assert.Contains(t, body.String(), "chatsync_failures_total")
}

func TestLogReporterWrites(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(NewLogger(&buf, "debug"))

	r.Event("session.resolved", "status", "authenticated")
	r.Failure("responder.trigger", apperr.BestEffort("responder.trigger", errors.New("timeout")))

	out := buf.String()
	assert.Contains(t, out, "session.resolved")
	assert.Contains(t, out, "background step failed")
	assert.Contains(t, out, "best_effort")
}
