/*
 * @module service/alerting/alert
 * @description 告警实体与状态迁移函数
 * @architecture 分层架构 - 业务服务层 - 状态机
 * @documentReference DESIGN.md
 * @stateFlow Open -> (超过 SLA 仍未恢复) Escalated -> (后续评分恢复) Resolved；Open -> Resolved
 * @rules 迁移函数为纯函数，返回新告警值；SLA 截止时间只会收紧不会放宽；Resolved 为终态
 * @dependencies time, github.com/google/uuid, dataquality-service/service/config
 * @refs service/alerting/engine.go
 */

package alerting

import (
	"fmt"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"

	"github.com/google/uuid"
)

// Status 告警状态
type Status string

const (
	StatusOpen      Status = "open"
	StatusEscalated Status = "escalated"
	StatusResolved  Status = "resolved"
)

// Alert 质量告警
type Alert struct {
	ID          string          `json:"id"`
	Dataset     string          `json:"dataset"`
	Source      string          `json:"source"` // 维度名、aggregate 或规则 ID
	Severity    models.Severity `json:"severity"`
	Measured    float64         `json:"measured_value"`
	Threshold   float64         `json:"threshold"`
	Deviation   float64         `json:"deviation"`
	OpenedAt    time.Time       `json:"opened_at"`
	Deadline    time.Time       `json:"sla_deadline"`
	Status      Status          `json:"status"`
	UpdatedAt   time.Time       `json:"updated_at"`
	EscalatedAt *time.Time      `json:"escalated_at,omitempty"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
	Recipients  []string        `json:"recipients,omitempty"`
	Message     string          `json:"message"`
}

// Active 告警是否处于 Open 或 Escalated
func (a Alert) Active() bool {
	return a.Status == StatusOpen || a.Status == StatusEscalated
}

// Key 告警去重键
func (a Alert) Key() Key {
	return Key{Dataset: a.Dataset, Source: a.Source}
}

// Key 同一时刻最多一个活动告警的键
type Key struct {
	Dataset string
	Source  string
}

func (k Key) String() string {
	return k.Dataset + "/" + k.Source
}

// Breach 一次评分中的越界观测
type Breach struct {
	Dataset   string
	Source    string
	Measured  float64
	Threshold float64
	Deviation float64 // 不合格记录百分比
}

// Key 观测对应的告警键
func (b Breach) Key() Key {
	return Key{Dataset: b.Dataset, Source: b.Source}
}

// Open 根据越界观测创建告警
func Open(b Breach, cfg *config.AlertingConfig, now time.Time) Alert {
	sev := severityOf(cfg, b.Deviation)
	a := Alert{
		ID:         uuid.New().String(),
		Dataset:    b.Dataset,
		Source:     b.Source,
		Severity:   sev,
		Measured:   b.Measured,
		Threshold:  b.Threshold,
		Deviation:  b.Deviation,
		OpenedAt:   now,
		Deadline:   now.Add(cfg.SLA[sev]),
		Status:     StatusOpen,
		UpdatedAt:  now,
		Recipients: cfg.Recipients[sev],
	}
	a.Message = describe(a)
	return a
}

// Update 活动告警上的新越界：更新测量值与严重级别，截止时间只收紧；无变化时返回 false
func Update(a Alert, b Breach, cfg *config.AlertingConfig, now time.Time) (Alert, bool) {
	if !a.Active() {
		return a, false
	}
	sev := severityOf(cfg, b.Deviation)
	if sev == a.Severity && b.Measured == a.Measured && b.Threshold == a.Threshold {
		return a, false
	}
	a.Severity = sev
	a.Measured = b.Measured
	a.Threshold = b.Threshold
	a.Deviation = b.Deviation
	if d := a.OpenedAt.Add(cfg.SLA[sev]); d.Before(a.Deadline) {
		a.Deadline = d
	}
	a.Recipients = cfg.Recipients[sev]
	a.UpdatedAt = now
	a.Message = describe(a)
	return a, true
}

// Escalate Open 告警超过 SLA 截止时间后升级；不满足条件时返回 false
func Escalate(a Alert, now time.Time) (Alert, bool) {
	if a.Status != StatusOpen || now.Before(a.Deadline) {
		return a, false
	}
	a.Status = StatusEscalated
	a.EscalatedAt = &now
	a.UpdatedAt = now
	a.Message = describe(a)
	return a, true
}

// Resolve 后续评分恢复到阈值内时关闭告警
func Resolve(a Alert, measured float64, now time.Time) (Alert, bool) {
	if !a.Active() {
		return a, false
	}
	a.Status = StatusResolved
	a.Measured = measured
	a.ResolvedAt = &now
	a.UpdatedAt = now
	a.Message = describe(a)
	return a, true
}

// severityOf 低于最低区间的越界按 Low 处理
func severityOf(cfg *config.AlertingConfig, deviation float64) models.Severity {
	if sev, ok := cfg.SeverityFor(deviation); ok {
		return sev
	}
	return models.SeverityLow
}

func describe(a Alert) string {
	switch a.Status {
	case StatusResolved:
		return fmt.Sprintf("数据集 %s 的 %s 已恢复(当前 %.2f，阈值 %.2f)", a.Dataset, a.Source, a.Measured, a.Threshold)
	case StatusEscalated:
		return fmt.Sprintf("数据集 %s 的 %s 超过 SLA 仍未恢复，已升级(%s，当前 %.2f，阈值 %.2f)",
			a.Dataset, a.Source, a.Severity, a.Measured, a.Threshold)
	default:
		return fmt.Sprintf("数据集 %s 的 %s 越界(%s，当前 %.2f，阈值 %.2f，偏差 %.2f%%)",
			a.Dataset, a.Source, a.Severity, a.Measured, a.Threshold, a.Deviation)
	}
}

// Record 转换为历史记录
func (a Alert) Record(event, runID string, recordedAt time.Time) *models.AlertRecord {
	return &models.AlertRecord{
		AlertID:       a.ID,
		RunID:         runID,
		Dataset:       a.Dataset,
		Source:        a.Source,
		Event:         event,
		Status:        string(a.Status),
		Severity:      string(a.Severity),
		MeasuredValue: a.Measured,
		Threshold:     a.Threshold,
		Deviation:     a.Deviation,
		Message:       a.Message,
		Recipients:    a.Recipients,
		OpenedAt:      a.OpenedAt,
		SLADeadline:   a.Deadline,
		EscalatedAt:   a.EscalatedAt,
		ResolvedAt:    a.ResolvedAt,
		RecordedAt:    recordedAt,
	}
}

// FromRecord 由历史记录恢复告警
func FromRecord(r models.AlertRecord) Alert {
	return Alert{
		ID:          r.AlertID,
		Dataset:     r.Dataset,
		Source:      r.Source,
		Severity:    models.Severity(r.Severity),
		Measured:    r.MeasuredValue,
		Threshold:   r.Threshold,
		Deviation:   r.Deviation,
		OpenedAt:    r.OpenedAt,
		Deadline:    r.SLADeadline,
		Status:      Status(r.Status),
		UpdatedAt:   r.RecordedAt,
		EscalatedAt: r.EscalatedAt,
		ResolvedAt:  r.ResolvedAt,
		Recipients:  r.Recipients,
		Message:     r.Message,
	}
}
