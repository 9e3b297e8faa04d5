package planner

import (
	"errors"
	"os"
	"runtime"

	"mcsync/pkg/digest"
	"mcsync/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reason 说明任务为什么需要传输
type Reason string

const (
	ReasonMissing    Reason = "missing"
	ReasonCorrupt    Reason = "corrupt"
	ReasonUnreadable Reason = "unreadable"
)

// Pending 是计划中需要传输的任务
type Pending struct {
	types.Task
	Reason Reason
}

// Planner 将解析结果与本地文件比对，只保留确实需要传输的任务
type Planner struct {
	verifier *digest.Verifier
	workers  int
	log      logrus.FieldLogger
}

// New workers <= 0 时使用 CPU 核数
func New(v *digest.Verifier, workers int, log logrus.FieldLogger) *Planner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Planner{verifier: v, workers: workers, log: log}
}

// Plan 返回输入的子集，保持原有顺序
// 保留条件：本地文件不存在，或者有摘要且摘要不匹配。
// 没有摘要的已存在文件一律视为有效。
// 只读文件系统，不做任何修改；哈希计算并行进行。
func (p *Planner) Plan(tasks []types.Task) []Pending {
	reasons := make([]Reason, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, t := range tasks {
		g.Go(func() error {
			reasons[i] = p.check(t)
			return nil
		})
	}
	_ = g.Wait()

	var out []Pending
	for i, t := range tasks {
		if reasons[i] != "" {
			out = append(out, Pending{Task: t, Reason: reasons[i]})
		}
	}
	return out
}

// check 返回空字符串表示本地文件有效
func (p *Planner) check(t types.Task) Reason {
	if _, err := os.Stat(t.Path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ReasonMissing
		}
		p.log.WithError(err).WithField("path", t.Path).Warn("cannot stat local file")
		return ReasonUnreadable
	}

	if !t.HasDigest() {
		return ""
	}

	ok, err := p.verifier.Matches(t.Path, t.SHA1)
	if err != nil {
		p.log.WithError(err).WithField("path", t.Path).Warn("cannot verify local file")
		return ReasonUnreadable
	}
	if !ok {
		return ReasonCorrupt
	}
	return ""
}

// Tasks 去掉原因，得到传给传输引擎的任务列表
func Tasks(pending []Pending) []types.Task {
	out := make([]types.Task, len(pending))
	for i, p := range pending {
		out[i] = p.Task
	}
	return out
}
