/*
 * @module service/audit/store
 * @description 审计条目存储：数据库存储与 JSON Lines 文件存储
 * @architecture 分层架构 - 持久化层
 * @documentReference DESIGN.md
 * @stateFlow Recorder.Record -> Store.Append
 * @rules 只追加；不提供更新与删除
 * @dependencies gorm.io/gorm, encoding/json
 * @refs service/audit/recorder.go, service/models/quality_records.go
 */

package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dataquality-service/service/models"

	"gorm.io/gorm"
)

// Store 审计条目存储接口
type Store interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	// LastSuccessful 数据集最近一次成功摄取的条目，不存在时返回 nil
	LastSuccessful(ctx context.Context, dataset string) (*models.AuditEntry, error)
	// List 按时间倒序列出条目，dataset 为空表示全部
	List(ctx context.Context, dataset string, limit int) ([]models.AuditEntry, error)
}

// GormStore 数据库审计存储
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建数据库审计存储
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append 追加审计条目
func (s *GormStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("写入审计条目失败: %w", err)
	}
	return nil
}

// LastSuccessful 最近一次成功摄取
func (s *GormStore) LastSuccessful(ctx context.Context, dataset string) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	err := s.db.WithContext(ctx).
		Where("dataset = ? AND outcome IN ?", dataset, []string{models.OutcomeSuccess, models.OutcomeUnchanged}).
		Order("recorded_at DESC, seq DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("查询审计条目失败: %w", err)
	}
	return &entry, nil
}

// List 列出审计条目
func (s *GormStore) List(ctx context.Context, dataset string, limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	query := s.db.WithContext(ctx).Model(&models.AuditEntry{})
	if dataset != "" {
		query = query.Where("dataset = ?", dataset)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("recorded_at DESC, seq DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("查询审计条目失败: %w", err)
	}
	return entries, nil
}

// JSONLinesStore 以 JSON Lines 追加写入文件的审计存储
type JSONLinesStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONLinesStore 创建文件审计存储，目录不存在时自动创建
func NewJSONLinesStore(path string) (*JSONLinesStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建审计目录失败: %w", err)
	}
	return &JSONLinesStore{path: path}, nil
}

// Append 追加一行
func (s *JSONLinesStore) Append(ctx context.Context, entry *models.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化审计条目失败: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("打开审计文件失败: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("写入审计文件失败: %w", err)
	}
	return nil
}

// LastSuccessful 最近一次成功摄取
func (s *JSONLinesStore) LastSuccessful(ctx context.Context, dataset string) (*models.AuditEntry, error) {
	entries, err := s.List(ctx, dataset, 0)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Succeeded() {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// List 列出审计条目
func (s *JSONLinesStore) List(ctx context.Context, dataset string, limit int) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("打开审计文件失败: %w", err)
	}
	defer f.Close()

	var entries []models.AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("解析审计文件失败: %w", err)
		}
		if dataset == "" || entry.Dataset == dataset {
			entries = append(entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取审计文件失败: %w", err)
	}

	// 文件顺序即写入顺序，倒序输出
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
