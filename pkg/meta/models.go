package meta

import (
	"time"

	"gorm.io/datatypes"
)

// Run 是一次 sync / apply 的结果记录
type Run struct {
	ID uint `gorm:"primaryKey"`

	// PlanID 是计划编码后的 SHA-1，相同输入的两次运行会有相同的 PlanID
	PlanID string `gorm:"index;type:char(40)"`
	Root   string `gorm:"index;type:varchar(1024);not null"`
	Mode   string `gorm:"type:varchar(16)"` // sync | apply

	// Sources: 版本号或清单路径列表 ["1.20.1", "./custom.json"]
	Sources datatypes.JSON

	Total        int
	AlreadyValid int
	Downloaded   int
	Failed       int
	Bytes        int64

	StartedAt  time.Time `gorm:"index"`
	FinishedAt time.Time

	Failures []TaskFailure `gorm:"constraint:OnDelete:CASCADE"`
}

func (Run) TableName() string {
	return "runs"
}

// Clean 没有失败任务
func (r *Run) Clean() bool { return r.Failed == 0 }

// TaskFailure 记录失败任务的最后一个错误
type TaskFailure struct {
	ID    uint   `gorm:"primaryKey"`
	RunID uint   `gorm:"index;not null"`
	URL   string `gorm:"type:text;not null"`
	Path  string `gorm:"type:text;not null"`
	Error string `gorm:"type:text"`
}

// Checkpoint 指向某个根目录最近一次完全成功的运行
type Checkpoint struct {
	Root string `gorm:"primaryKey;type:varchar(1024)"`

	RunID  uint
	PlanID string `gorm:"type:char(40)"`

	// 每次推进 +1
	Version int64 `gorm:"default:1"`

	UpdatedAt time.Time
}
