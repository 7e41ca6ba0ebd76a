/*
 * @module service/report/store
 * @description 质量报告存储：每次运行一条记录，支持查询最新报告
 * @architecture 分层架构 - 数据访问层
 * @documentReference DESIGN.md
 * @stateFlow Report -> QualityReportRecord -> 数据库
 * @rules 报告按运行 ID 唯一，只追加
 * @dependencies gorm.io/gorm
 * @refs service/pipeline/runner.go
 */

package report

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"dataquality-service/service/models"

	"gorm.io/gorm"
)

// ErrNoReport 尚未生成任何报告
var ErrNoReport = errors.New("尚未生成质量报告")

// Store 质量报告存储
type Store interface {
	Save(ctx context.Context, r *Report) error
	Latest(ctx context.Context) (*Report, error)
}

// GormStore 数据库报告存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建数据库报告存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Save 保存报告
func (s *GormStore) Save(ctx context.Context, r *Report) error {
	rec, err := r.Record()
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("保存质量报告失败: %w", err)
	}
	return nil
}

// Latest 最新报告
func (s *GormStore) Latest(ctx context.Context) (*Report, error) {
	var rec models.QualityReportRecord
	err := s.db.WithContext(ctx).Order("generated_at DESC").First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoReport
	}
	if err != nil {
		return nil, fmt.Errorf("查询质量报告失败: %w", err)
	}
	return FromRecord(&rec)
}

// MemoryStore 只保留最新报告的内存存储
type MemoryStore struct {
	mu     sync.RWMutex
	latest *Report
}

// NewMemoryStore 创建内存报告存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save 保存报告
func (s *MemoryStore) Save(ctx context.Context, r *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = r
	return nil
}

// Latest 最新报告
func (s *MemoryStore) Latest(ctx context.Context) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return nil, ErrNoReport
	}
	return s.latest, nil
}
