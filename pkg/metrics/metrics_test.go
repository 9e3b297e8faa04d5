package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"mcsync/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// value 从 registry 中取出指定指标的值
func value(t *testing.T, r *Recorder, name, outcome string) float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if outcome != "" && (len(m.GetLabel()) == 0 || m.GetLabel()[0].GetValue() != outcome) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.ObserveValid(3)
	r.Observe(types.Result{Outcome: types.OutcomeDownloaded, Bytes: 100})
	r.Observe(types.Result{Outcome: types.OutcomeDownloaded, Bytes: 50})
	r.Observe(types.Result{Outcome: types.OutcomeFailed})
	r.SetPending(3)

	assert.Equal(t, 3.0, value(t, r, "mcsync_tasks_total", "already-valid"))
	assert.Equal(t, 2.0, value(t, r, "mcsync_tasks_total", "downloaded"))
	assert.Equal(t, 1.0, value(t, r, "mcsync_tasks_total", "failed"))
	assert.Equal(t, 150.0, value(t, r, "mcsync_downloaded_bytes_total", ""))
	assert.Equal(t, 3.0, value(t, r, "mcsync_pending_tasks", ""))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.Finish(1.5)

	require.NoError(t, r.WriteTextfile(""))

	path := filepath.Join(t.TempDir(), "mcsync.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mcsync_tasks_total{outcome="failed"} 0`)
	assert.Contains(t, string(data), "mcsync_last_run_duration_seconds 1.5")
}
