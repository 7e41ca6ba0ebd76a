/*
 * @module service/models/quality_records
 * @description 持久化模型：审计条目、告警历史、质量报告
 * @architecture 数据模型层
 * @documentReference DESIGN.md
 * @stateFlow 摄取 -> 审计条目；告警状态迁移 -> 告警历史；每次运行 -> 质量报告
 * @rules 三类记录均为只追加，不提供更新入口
 * @dependencies gorm.io/gorm, github.com/google/uuid, github.com/lib/pq
 * @refs service/audit, service/alerting, service/report
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// 摄取结果
const (
	OutcomeSuccess     = "success"
	OutcomeUnchanged   = "unchanged"
	OutcomeSchemaError = "schema_error"
	OutcomeLoadError   = "load_error"
)

// AuditEntry 摄取审计条目，每次摄取尝试恰好一条
type AuditEntry struct {
	ID          string         `gorm:"type:varchar(50);primaryKey" json:"id"`
	RunID       string         `gorm:"type:varchar(50);index" json:"run_id"`
	Dataset     string         `gorm:"type:varchar(100);not null;index" json:"dataset"`
	Source      string         `gorm:"type:varchar(500)" json:"source"`
	Fingerprint string         `gorm:"type:varchar(64);index" json:"fingerprint"`
	Outcome     string         `gorm:"type:varchar(20);not null" json:"outcome"` // success, unchanged, schema_error, load_error
	Rows        int            `json:"rows"`
	Columns     int            `json:"columns"`
	Errors      pq.StringArray `gorm:"type:text" json:"errors,omitempty"`
	Warnings    pq.StringArray `gorm:"type:text" json:"warnings,omitempty"`
	Details     JSONB          `gorm:"type:jsonb" json:"details,omitempty"`
	RecordedAt  time.Time      `gorm:"not null;index" json:"recorded_at"`
	Seq         int64          `gorm:"index" json:"seq"`
}

// TableName 指定表名
func (AuditEntry) TableName() string {
	return "dq_audit_entries"
}

// BeforeCreate 创建前钩子
func (a *AuditEntry) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// Succeeded 摄取是否产出了可用数据集
func (a *AuditEntry) Succeeded() bool {
	return a.Outcome == OutcomeSuccess || a.Outcome == OutcomeUnchanged
}

// 告警历史事件
const (
	AlertEventOpened    = "opened"
	AlertEventUpdated   = "updated"
	AlertEventEscalated = "escalated"
	AlertEventResolved  = "resolved"
)

// AlertRecord 告警历史记录，每次状态迁移追加一行
type AlertRecord struct {
	ID            string         `gorm:"type:varchar(50);primaryKey" json:"id"`
	AlertID       string         `gorm:"type:varchar(50);not null;index" json:"alert_id"`
	RunID         string         `gorm:"type:varchar(50);index" json:"run_id"`
	Dataset       string         `gorm:"type:varchar(100);not null;index" json:"dataset"`
	Source        string         `gorm:"type:varchar(100);not null" json:"source"`
	Event         string         `gorm:"type:varchar(20);not null" json:"event"`
	Status        string         `gorm:"type:varchar(20);not null" json:"status"`
	Severity      string         `gorm:"type:varchar(20);not null" json:"severity"`
	MeasuredValue float64        `json:"measured_value"`
	Threshold     float64        `json:"threshold"`
	Deviation     float64        `json:"deviation"`
	Message       string         `gorm:"type:text" json:"message"`
	Recipients    pq.StringArray `gorm:"type:text" json:"recipients,omitempty"`
	OpenedAt      time.Time      `json:"opened_at"`
	SLADeadline   time.Time      `json:"sla_deadline"`
	EscalatedAt   *time.Time     `json:"escalated_at,omitempty"`
	ResolvedAt    *time.Time     `json:"resolved_at,omitempty"`
	RecordedAt    time.Time      `gorm:"not null;index" json:"recorded_at"`
	Seq           int64          `gorm:"index" json:"seq"`
}

// TableName 指定表名
func (AlertRecord) TableName() string {
	return "dq_alert_history"
}

// BeforeCreate 创建前钩子
func (a *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

// QualityReportRecord 每次运行生成的质量报告
type QualityReportRecord struct {
	ID             string    `gorm:"type:varchar(50);primaryKey" json:"id"`
	RunID          string    `gorm:"type:varchar(50);uniqueIndex" json:"run_id"`
	GeneratedAt    time.Time `gorm:"not null;index" json:"generated_at"`
	OverallScore   float64   `json:"overall_score"`
	Classification string    `gorm:"type:varchar(30)" json:"classification"`
	DatasetCount   int       `json:"dataset_count"`
	AlertCount     int       `json:"alert_count"`
	Report         JSONB     `gorm:"type:jsonb" json:"report"`
}

// TableName 指定表名
func (QualityReportRecord) TableName() string {
	return "dq_quality_reports"
}

// BeforeCreate 创建前钩子
func (q *QualityReportRecord) BeforeCreate(tx *gorm.DB) error {
	if q.ID == "" {
		q.ID = uuid.New().String()
	}
	return nil
}

// AllModels 需要迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&AuditEntry{},
		&AlertRecord{},
		&QualityReportRecord{},
	}
}
