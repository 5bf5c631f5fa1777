package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestCollector_ObserveBackend(t *testing.T) {
	c, err := NewCollector("filer")
	require.NoError(t, err)

	c.ObserveBackend("local", "write", StatusSuccess, 10*time.Millisecond)
	c.ObserveBackend("local", "write", StatusSuccess, 20*time.Millisecond)
	c.ObserveBackend("archive", "stat", StatusNotFound, time.Millisecond)

	body := scrape(t, c)
	assert.Contains(t, body, `filer_backend_operations_total{backend="local",operation="write",status="success"} 2`)
	assert.Contains(t, body, `filer_backend_operations_total{backend="archive",operation="stat",status="not_found"} 1`)
	assert.Contains(t, body, `filer_backend_operation_duration_seconds_count{backend="local",operation="write"} 2`)
}

func TestCollector_ObserveMigration(t *testing.T) {
	c, err := NewCollector("filer")
	require.NoError(t, err)

	c.ObserveMigration("old/a.txt", []string{"archive", "disk"})
	c.ObserveMigration("old/b.txt", []string{"archive"})

	body := scrape(t, c)
	assert.Contains(t, body, `filer_legacy_migrations_total{backend="archive"} 2`)
	assert.Contains(t, body, `filer_legacy_migrations_total{backend="disk"} 1`)
}

func TestCollector_Registry(t *testing.T) {
	c, err := NewCollector("filer")
	require.NoError(t, err)

	c.ObserveBackend("local", "read", StatusError, time.Millisecond)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
