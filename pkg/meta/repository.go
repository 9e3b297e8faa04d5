package meta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrRunNotFound        = errors.New("run not found")
	ErrCheckpointNotFound = errors.New("no clean run recorded for root")
)

// Repository 封装所有对 SQL 数据库的操作
type Repository struct {
	db *DB
}

func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// EncodeSources 将来源列表转成 JSON 列
func EncodeSources(sources []string) (datatypes.JSON, error) {
	if sources == nil {
		sources = []string{}
	}
	data, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sources: %w", err)
	}
	return datatypes.JSON(data), nil
}

// -----------------------------------------------------------------------------
// 1. 运行记录
// -----------------------------------------------------------------------------

// RecordRun 在一个事务里写入运行及其失败任务
// 运行无失败时同时推进该根目录的 Checkpoint
func (r *Repository) RecordRun(ctx context.Context, run *Run) error {
	return r.db.GetConn().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Failures 随 Run 一起插入 (has-many 关联)
		if err := tx.Create(run).Error; err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		if !run.Clean() {
			return nil
		}

		cp := Checkpoint{
			Root:      run.Root,
			RunID:     run.ID,
			PlanID:    run.PlanID,
			Version:   1,
			UpdatedAt: time.Now(),
		}
		// 已存在则覆盖指针并自增版本
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "root"}},
			DoUpdates: clause.Assignments(map[string]any{
				"run_id":     cp.RunID,
				"plan_id":    cp.PlanID,
				"version":    gorm.Expr("checkpoints.version + 1"),
				"updated_at": cp.UpdatedAt,
			}),
		}).Create(&cp).Error
		if err != nil {
			return fmt.Errorf("failed to advance checkpoint: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetRun(ctx context.Context, id uint) (*Run, error) {
	var run Run
	err := r.db.GetConn().WithContext(ctx).
		Preload("Failures").
		First(&run, id).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 按开始时间倒序返回；root 为空时返回所有根目录
func (r *Repository) ListRuns(ctx context.Context, root string, limit int) ([]Run, error) {
	q := r.db.GetConn().WithContext(ctx).Order("started_at DESC, id DESC")
	if root != "" {
		q = q.Where("root = ?", root)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []Run
	err := q.Find(&runs).Error
	return runs, err
}

// -----------------------------------------------------------------------------
// 2. Checkpoint
// -----------------------------------------------------------------------------

func (r *Repository) GetCheckpoint(ctx context.Context, root string) (*Checkpoint, error) {
	var cp Checkpoint
	err := r.db.GetConn().WithContext(ctx).
		Where("root = ?", root).
		First(&cp).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}
