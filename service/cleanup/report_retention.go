/*
 * @module service/cleanup/report_retention
 * @description 质量报告保留策略：定期删除超过保留天数的历史报告
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 定时触发 -> 计算截止时间 -> 删除过期报告 -> 记录结果
 * @rules 最新一份报告始终保留；审计日志与告警历史只追加，不在清理范围内
 * @dependencies gorm.io/gorm, github.com/robfig/cron/v3
 * @refs main.go
 */

package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dataquality-service/service/models"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// DefaultReportRetentionDays 默认报告保留天数
const DefaultReportRetentionDays = 90

// ReportRetentionService 报告清理服务
type ReportRetentionService struct {
	db            *gorm.DB
	retentionDays int
	now           func() time.Time
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
}

// NewReportRetentionService 创建报告清理服务实例，retentionDays <= 0 时使用默认值
func NewReportRetentionService(db *gorm.DB, retentionDays int, now func() time.Time) *ReportRetentionService {
	if retentionDays <= 0 {
		retentionDays = DefaultReportRetentionDays
	}
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ReportRetentionService{
		db:            db,
		retentionDays: retentionDays,
		now:           now,
		cron:          cron.New(cron.WithSeconds()),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// CleanupExpiredReports 删除过期报告，返回删除条数
func (s *ReportRetentionService) CleanupExpiredReports(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().AddDate(0, 0, -s.retentionDays)

	var latest models.QualityReportRecord
	err := s.db.WithContext(ctx).Order("generated_at DESC").First(&latest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("查询最新质量报告失败: %w", err)
	}

	result := s.db.WithContext(ctx).
		Where("generated_at < ? AND id <> ?", cutoff, latest.ID).
		Delete(&models.QualityReportRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("删除过期质量报告失败: %w", result.Error)
	}

	slog.Info("过期质量报告清理完成",
		"deleted_count", result.RowsAffected,
		"retention_days", s.retentionDays,
		"cutoff", cutoff.Format("2006-01-02 15:04:05"))
	return result.RowsAffected, nil
}

// StartScheduledCleanup 启动定时清理任务(每天凌晨2点)
func (s *ReportRetentionService) StartScheduledCleanup() error {
	if s.started {
		return fmt.Errorf("报告清理调度器已经启动")
	}
	_, err := s.cron.AddFunc("0 0 2 * * *", func() {
		if _, err := s.CleanupExpiredReports(s.ctx); err != nil {
			slog.Error("定时报告清理任务失败", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}
	s.cron.Start()
	s.started = true
	slog.Info("报告清理调度器已启动", "retention_days", s.retentionDays)
	return nil
}

// Stop 停止定时清理
func (s *ReportRetentionService) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
}
