/*
 * @module service/report/report
 * @description 质量报告：汇总清洗前后评分、告警与运行摘要，输出 JSON 与文本两种形式
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 摄取批次 + 清洗结果 + 前后评分 + 告警 -> Build -> JSON/Text -> Store
 * @rules 被排除的数据集、被移除的记录与规则冲突必须全部列出，运行不得静默失败
 * @dependencies encoding/json, dataquality-service/service/scoring, dataquality-service/service/alerting
 * @refs service/pipeline/runner.go, api/controllers/quality_controller.go
 */

package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"dataquality-service/service/alerting"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/config"
	"dataquality-service/service/ingestion"
	"dataquality-service/service/models"
	"dataquality-service/service/rules"
	"dataquality-service/service/scoring"
)

// Removal 被移出数据集的记录
type Removal struct {
	Dataset   string `json:"dataset"`
	RecordKey string `json:"record_key"`
	Row       int    `json:"row"`
	Field     string `json:"field,omitempty"`
	RuleID    string `json:"rule_id"`
	Action    string `json:"action"`
	Reason    string `json:"reason"`
}

// Summary 运行摘要
type Summary struct {
	Ingested      []string             `json:"ingested"`
	Excluded      map[string]string    `json:"excluded"`
	Removed       []Removal            `json:"removed"`
	Conflicts     int                  `json:"conflicts"`
	ChangesByRule map[string]int       `json:"changes_by_rule"`
	Audit         []*models.AuditEntry `json:"audit"`
}

// DatasetQuality 单个数据集清洗前后的评分
type DatasetQuality struct {
	Dataset string               `json:"dataset"`
	Before  *scoring.ScoreReport `json:"before,omitempty"`
	After   *scoring.ScoreReport `json:"after,omitempty"`
	Delta   float64              `json:"delta"`
}

// Report 一次运行的质量报告
type Report struct {
	RunID          string           `json:"run_id"`
	GeneratedAt    time.Time        `json:"generated_at"`
	OverallBefore  float64          `json:"overall_before"`
	Overall        float64          `json:"overall"`
	Classification string           `json:"classification"`
	Recommendation string           `json:"recommendation"`
	Datasets       []DatasetQuality `json:"datasets"`
	Alerts         []alerting.Alert `json:"alerts"`
	Summary        Summary          `json:"summary"`
	// Changes 完整修正日志，含新旧取值与被移除记录的快照
	Changes []cleaning.Entry `json:"changes"`
}

// Input 构建报告所需的运行产物
type Input struct {
	RunID       string
	GeneratedAt time.Time
	Batch       *ingestion.Batch
	Cleaning    *cleaning.Result
	Before      *scoring.Summary
	After       *scoring.Summary
	Alerts      []alerting.Alert
}

// Build 构建报告
func Build(settings *config.Settings, in Input) *Report {
	r := &Report{
		RunID:       in.RunID,
		GeneratedAt: in.GeneratedAt,
		Overall:     100,
		Alerts:      in.Alerts,
		Summary: Summary{
			Excluded:      map[string]string{},
			ChangesByRule: map[string]int{},
		},
	}

	if in.Batch != nil {
		for name := range in.Batch.Datasets {
			r.Summary.Ingested = append(r.Summary.Ingested, name)
		}
		sort.Strings(r.Summary.Ingested)
		for name, err := range in.Batch.Excluded {
			r.Summary.Excluded[name] = err.Error()
		}
		r.Summary.Audit = in.Batch.Entries
	}
	if in.Cleaning != nil {
		for name, reason := range in.Cleaning.Excluded {
			if _, ok := r.Summary.Excluded[name]; !ok {
				r.Summary.Excluded[name] = reason
			}
		}
		r.Changes = in.Cleaning.Log.Export()
		for _, c := range in.Cleaning.Log.Entries() {
			r.Summary.ChangesByRule[c.RuleID]++
			if !c.Action.Removes() {
				continue
			}
			if c.Action == cleaning.ActionConflict {
				r.Summary.Conflicts++
			}
			r.Summary.Removed = append(r.Summary.Removed, Removal{
				Dataset:   c.Dataset,
				RecordKey: c.RecordKey,
				Row:       c.Row,
				Field:     c.Field,
				RuleID:    c.RuleID,
				Action:    string(c.Action),
				Reason:    c.Reason,
			})
		}
	}

	names := map[string]bool{}
	if in.Before != nil {
		r.OverallBefore = in.Before.Aggregate
		for _, s := range in.Before.Reports {
			names[s.Dataset] = true
		}
	}
	if in.After != nil {
		r.Overall = in.After.Aggregate
		for _, s := range in.After.Reports {
			names[s.Dataset] = true
		}
	}
	for _, name := range sortedKeys(names) {
		dq := DatasetQuality{Dataset: name}
		if in.Before != nil {
			dq.Before, _ = in.Before.Report(name)
		}
		if in.After != nil {
			dq.After, _ = in.After.Report(name)
		}
		if dq.Before != nil && dq.After != nil {
			dq.Delta = rules.Round2(dq.After.Aggregate - dq.Before.Aggregate)
		}
		r.Datasets = append(r.Datasets, dq)
	}

	band := settings.Scoring.Band(r.Overall)
	r.Classification = band.Label
	r.Recommendation = band.Recommendation
	return r
}

// JSON 机器可读形式
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// Text 人类可读形式
func (r *Report) Text() string {
	var b strings.Builder
	r.WriteText(&b)
	return b.String()
}

// WriteText 输出文本报告
func (r *Report) WriteText(w io.Writer) {
	line := strings.Repeat("=", 80)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "数据质量执行报告")
	fmt.Fprintln(w, line)
	fmt.Fprintf(w, "运行: %s\n", r.RunID)
	fmt.Fprintf(w, "时间: %s\n\n", r.GeneratedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "综合评分: %.1f%% - %s (清洗前 %.1f%%)\n\n", r.Overall, r.Classification, r.OverallBefore)

	fmt.Fprintln(w, "数据集评分:")
	for _, d := range r.Datasets {
		switch {
		case d.Before != nil && d.After != nil:
			fmt.Fprintf(w, "  • %-12s %6.1f%% -> %6.1f%%  %s\n", d.Dataset, d.Before.Aggregate, d.After.Aggregate, d.After.Classification)
			for _, s := range d.After.Dimensions {
				before := d.Before.Score(s.Dimension)
				fmt.Fprintf(w, "      %-13s %6.1f%% -> %6.1f%%\n", s.Dimension, before, s.Score)
			}
		case d.After != nil:
			fmt.Fprintf(w, "  • %-12s %6.1f%%  %s\n", d.Dataset, d.After.Aggregate, d.After.Classification)
		case d.Before != nil:
			fmt.Fprintf(w, "  • %-12s %6.1f%%  (未清洗)\n", d.Dataset, d.Before.Aggregate)
		}
	}

	if len(r.Summary.Excluded) > 0 {
		fmt.Fprintln(w, "\n被排除的数据集:")
		for _, name := range sortedKeys(r.Summary.Excluded) {
			fmt.Fprintf(w, "  • %s: %s\n", name, r.Summary.Excluded[name])
		}
	}

	if len(r.Summary.Removed) > 0 {
		fmt.Fprintf(w, "\n移除的记录 (%d，其中冲突 %d):\n", len(r.Summary.Removed), r.Summary.Conflicts)
		for _, rm := range r.Summary.Removed {
			fmt.Fprintf(w, "  • %s[%s] 第 %d 行 %s: %s\n", rm.Dataset, rm.RecordKey, rm.Row, rm.Action, rm.Reason)
		}
	}

	if len(r.Alerts) > 0 {
		fmt.Fprintln(w, "\n告警:")
		for _, a := range r.Alerts {
			fmt.Fprintf(w, "  • [%s] %s %s/%s: %s\n", strings.ToUpper(string(a.Severity)), a.Status, a.Dataset, a.Source, a.Message)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "建议:")
	if r.Recommendation != "" {
		fmt.Fprintf(w, "  %s\n", r.Recommendation)
	}
	fmt.Fprintln(w, line)
}

// Record 转换为持久化记录
func (r *Report) Record() (*models.QualityReportRecord, error) {
	body, err := models.ToJSONB(r)
	if err != nil {
		return nil, fmt.Errorf("序列化质量报告失败: %w", err)
	}
	return &models.QualityReportRecord{
		RunID:          r.RunID,
		GeneratedAt:    r.GeneratedAt,
		OverallScore:   r.Overall,
		Classification: r.Classification,
		DatasetCount:   len(r.Datasets),
		AlertCount:     len(r.Alerts),
		Report:         body,
	}, nil
}

// FromRecord 由持久化记录还原报告
func FromRecord(rec *models.QualityReportRecord) (*Report, error) {
	r := &Report{}
	if err := rec.Report.Decode(r); err != nil {
		return nil, fmt.Errorf("解析质量报告失败: %w", err)
	}
	return r, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
