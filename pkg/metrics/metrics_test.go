package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteToTextfile(t *testing.T) {
	t.Run("writes registered metrics", func(t *testing.T) {
		PipelineRunsTotal.WithLabelValues("donor-dedupe", "succeeded").Inc()
		path := filepath.Join(t.TempDir(), "sorrel.prom")

		require.NoError(t, WriteToTextfile(path))

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), `sorrel_pipeline_runs_total{definition="donor-dedupe",status="succeeded"}`)
	})

	t.Run("empty path is a no-op", func(t *testing.T) {
		assert.NoError(t, WriteToTextfile(""))
	})
}

func TestMalformedValuesTotal(t *testing.T) {
	c := MalformedValuesTotal.WithLabelValues("contributions", "amount")
	before := testutil.ToFloat64(c)
	c.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}
