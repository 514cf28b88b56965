package metrics

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStateClass(t *testing.T) {
	assert.Equal(t, "23", SQLStateClass("23505"))
	assert.Equal(t, "none", SQLStateClass(""))
	assert.Equal(t, "none", SQLStateClass("4"))
}

func TestCountersAreExposed(t *testing.T) {
	before := testutil.ToFloat64(RowsAffected.WithLabelValues("delete"))
	RowsAffected.WithLabelValues("delete").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(RowsAffected.WithLabelValues("delete")))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "pgtable_rows_affected_total"))
}

func TestStartPrometheusServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	StartPrometheusServer(ctx, &wg, &PromServerOpts{Addr: addr})

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()
}
