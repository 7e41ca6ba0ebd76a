/*
 * @module service/alerting/history
 * @description 告警历史存储：只追加的状态迁移记录，支持按告警查询历史与恢复活动告警
 * @architecture 分层架构 - 数据访问层
 * @documentReference DESIGN.md
 * @stateFlow 状态迁移 -> Append -> 查询最新状态/历史
 * @rules 历史只追加；告警的当前状态为其最后一条记录
 * @dependencies gorm.io/gorm, sync
 * @refs service/alerting/engine.go, api/controllers/alert_controller.go
 */

package alerting

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dataquality-service/service/models"

	"gorm.io/gorm"
)

// HistoryStore 告警历史存储
type HistoryStore interface {
	Append(ctx context.Context, record *models.AlertRecord) error
	// Latest 每个告警的最新记录，status 为空时不过滤，按记录时间倒序
	Latest(ctx context.Context, status string) ([]models.AlertRecord, error)
	// History 单个告警的全部记录，按追加顺序
	History(ctx context.Context, alertID string) ([]models.AlertRecord, error)
}

// GormHistoryStore 基于数据库的告警历史
type GormHistoryStore struct {
	db  *gorm.DB
	mu  sync.Mutex
	seq int64
}

// NewGormHistoryStore 创建数据库告警历史
func NewGormHistoryStore(db *gorm.DB) *GormHistoryStore {
	return &GormHistoryStore{db: db}
}

// Append 追加历史记录
func (s *GormHistoryStore) Append(ctx context.Context, record *models.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq == 0 {
		var max int64
		if err := s.db.WithContext(ctx).Model(&models.AlertRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&max).Error; err != nil {
			return fmt.Errorf("读取告警历史序号失败: %w", err)
		}
		s.seq = max
	}
	s.seq++
	record.Seq = s.seq
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("写入告警历史失败: %w", err)
	}
	return nil
}

// Latest 每个告警的最新状态
func (s *GormHistoryStore) Latest(ctx context.Context, status string) ([]models.AlertRecord, error) {
	latest := s.db.Model(&models.AlertRecord{}).Select("alert_id, MAX(seq) AS seq").Group("alert_id")

	query := s.db.WithContext(ctx).Model(&models.AlertRecord{}).
		Joins("JOIN (?) AS latest ON latest.alert_id = dq_alert_history.alert_id AND latest.seq = dq_alert_history.seq", latest)
	if status != "" {
		query = query.Where("dq_alert_history.status = ?", status)
	}

	var records []models.AlertRecord
	if err := query.Order("dq_alert_history.seq DESC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询告警失败: %w", err)
	}
	return records, nil
}

// History 单个告警的历史
func (s *GormHistoryStore) History(ctx context.Context, alertID string) ([]models.AlertRecord, error) {
	var records []models.AlertRecord
	if err := s.db.WithContext(ctx).Where("alert_id = ?", alertID).Order("seq ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询告警历史失败: %w", err)
	}
	return records, nil
}

// MemoryHistoryStore 内存告警历史，用于命令行批处理与测试
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records []models.AlertRecord
}

// NewMemoryHistoryStore 创建内存告警历史
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

// Append 追加历史记录
func (s *MemoryHistoryStore) Append(ctx context.Context, record *models.AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Seq = int64(len(s.records) + 1)
	s.records = append(s.records, *record)
	return nil
}

// Latest 每个告警的最新状态
func (s *MemoryHistoryStore) Latest(ctx context.Context, status string) ([]models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := map[string]models.AlertRecord{}
	for _, r := range s.records {
		last[r.AlertID] = r
	}
	out := make([]models.AlertRecord, 0, len(last))
	for _, r := range last {
		if status == "" || r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

// History 单个告警的历史
func (s *MemoryHistoryStore) History(ctx context.Context, alertID string) ([]models.AlertRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.AlertRecord
	for _, r := range s.records {
		if r.AlertID == alertID {
			out = append(out, r)
		}
	}
	return out, nil
}
