/*
 * @module service/audit/recorder
 * @description 审计记录器：计算内容指纹，串行追加审计条目到一个或多个存储
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 摄取尝试 -> Record -> 各存储依次 Append
 * @rules 每次摄取尝试恰好记录一次；写入串行化，顺序确定
 * @dependencies crypto/md5, github.com/google/uuid
 * @refs service/ingestion/pipeline.go, service/audit/store.go
 */

package audit

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dataquality-service/service/models"

	"github.com/google/uuid"
)

// Fingerprint 原始内容的 MD5 十六进制摘要
func Fingerprint(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

type runIDKey struct{}

// WithRunID 在上下文中携带运行 ID，写入审计条目时使用
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFrom 读取上下文中的运行 ID
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Recorder 审计记录器
type Recorder struct {
	mu     sync.Mutex
	stores []Store
	now    func() time.Time
	seq    int64
}

// NewRecorder 创建审计记录器，第一个存储用于查询
func NewRecorder(now func() time.Time, stores ...Store) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{stores: stores, now: now}
}

// Record 追加审计条目；任一存储写入失败都会返回错误，但仍尝试写入其余存储
func (r *Recorder) Record(ctx context.Context, entry *models.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.RunID == "" {
		entry.RunID = RunIDFrom(ctx)
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = r.now().UTC()
	}
	r.seq++
	entry.Seq = r.seq

	var firstErr error
	for _, s := range r.stores {
		if err := s.Append(ctx, entry); err != nil {
			slog.Error("写入审计条目失败", "dataset", entry.Dataset, "outcome", entry.Outcome, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	slog.Info("审计条目已记录",
		"dataset", entry.Dataset,
		"outcome", entry.Outcome,
		"fingerprint", entry.Fingerprint,
		"rows", entry.Rows)
	return firstErr
}

// LastSuccessful 数据集最近一次成功摄取
func (r *Recorder) LastSuccessful(ctx context.Context, dataset string) (*models.AuditEntry, error) {
	if len(r.stores) == 0 {
		return nil, nil
	}
	entry, err := r.stores[0].LastSuccessful(ctx, dataset)
	if err != nil {
		return nil, fmt.Errorf("获取最近审计条目失败: %w", err)
	}
	return entry, nil
}

// List 列出审计条目
func (r *Recorder) List(ctx context.Context, dataset string, limit int) ([]models.AuditEntry, error) {
	if len(r.stores) == 0 {
		return nil, nil
	}
	return r.stores[0].List(ctx, dataset, limit)
}
