package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mcsync/pkg/types"
)

// Recorder 统计一次运行的结果
// 每次运行使用独立的 registry，运行结束后写成 node_exporter textfile
type Recorder struct {
	registry *prometheus.Registry

	tasks    *prometheus.CounterVec
	bytes    prometheus.Counter
	pending  prometheus.Gauge
	lastRun  prometheus.Gauge
	duration prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcsync",
			Name:      "tasks_total",
			Help:      "Tasks by outcome in the last run.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mcsync",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes written to the content root in the last run.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcsync",
			Name:      "pending_tasks",
			Help:      "Tasks that needed a transfer when the run was planned.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcsync",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcsync",
			Name:      "last_run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	r.registry.MustRegister(r.tasks, r.bytes, r.pending, r.lastRun, r.duration)

	// 预先创建所有标签，保证没有失败时也输出 0
	for _, o := range []types.Outcome{types.OutcomeAlreadyValid, types.OutcomeDownloaded, types.OutcomeFailed} {
		r.tasks.WithLabelValues(string(o))
	}
	return r
}

func (r *Recorder) Observe(res types.Result) {
	r.tasks.WithLabelValues(string(res.Outcome)).Inc()
	if res.Bytes > 0 {
		r.bytes.Add(float64(res.Bytes))
	}
}

// ObserveValid 计入计划阶段已判定有效的任务 (不会进入传输引擎)
func (r *Recorder) ObserveValid(n int) {
	r.tasks.WithLabelValues(string(types.OutcomeAlreadyValid)).Add(float64(n))
}

func (r *Recorder) SetPending(n int) { r.pending.Set(float64(n)) }

func (r *Recorder) Finish(seconds float64) {
	r.duration.Set(seconds)
	r.lastRun.SetToCurrentTime()
}

// WriteTextfile 原子写入 textfile；path 为空时不做任何事
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *Recorder) Registry() *prometheus.Registry { return r.registry }
