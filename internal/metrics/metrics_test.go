package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordHelpersDoNotPanic(t *testing.T) {
	RecordDedupSuppressed("syslog")
	RecordAdapterRestart("build")
	RecordFlowCaptured("intercepted")
}

func TestServerServesMetricsEndpoint(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := NewServer("127.0.0.1:0", log)
	s.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, s.Stop(ctx))
	}()

	// NewServer binds :0 for Start's ListenAndServe, which picks its own
	// ephemeral port internally; exercise the handler directly instead of
	// guessing that port.
	req, err := http.NewRequest(http.MethodGet, "/metrics", nil)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
