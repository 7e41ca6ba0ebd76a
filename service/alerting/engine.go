/*
 * @module service/alerting/engine
 * @description 告警引擎：将评分报告与规则违规映射为分级告警，与已有活动告警对账并执行升级策略
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 评分报告/规则违规 -> 越界观测 -> 与活动告警对账(Open/Update/Escalate/Resolve) -> 历史追加 -> 通知分发
 * @rules 每个 (数据集, 来源) 同一时刻最多一个 Open/Escalated 告警；每次迁移都写入历史；阈值全部来自配置
 * @dependencies log/slog, sync, dataquality-service/service/scoring
 * @refs service/alerting/alert.go, service/pipeline/runner.go
 */

package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"dataquality-service/service/audit"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/service/rules"
	"dataquality-service/service/scoring"
)

// RuleViolation 清洗或摄取阶段的规则违规统计
type RuleViolation struct {
	Dataset  string `json:"dataset"`
	RuleID   string `json:"rule_id"`
	Affected int    `json:"affected"`
	Total    int    `json:"total"`
}

// Rate 违规比例(%)
func (v RuleViolation) Rate() float64 {
	if v.Total <= 0 {
		if v.Affected > 0 {
			return 100
		}
		return 0
	}
	return rules.Round2(float64(v.Affected) / float64(v.Total) * 100)
}

// Engine 告警引擎
type Engine struct {
	cfg       *config.AlertingConfig
	history   HistoryStore
	notifiers []Notifier
	now       func() time.Time

	mu       sync.Mutex
	active   map[Key]Alert
	restored bool
}

// NewEngine 创建告警引擎
func NewEngine(settings *config.Settings, history HistoryStore, now func() time.Time, notifiers ...Notifier) *Engine {
	if now == nil {
		now = time.Now
	}
	if history == nil {
		history = NewMemoryHistoryStore()
	}
	return &Engine{
		cfg:       &settings.Alerting,
		history:   history,
		notifiers: notifiers,
		now:       now,
		active:    map[Key]Alert{},
	}
}

// History 历史存储
func (e *Engine) History() HistoryStore {
	return e.history
}

// Restore 从历史中恢复活动告警，进程重启后继续对账
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restore(ctx)
}

func (e *Engine) restore(ctx context.Context) error {
	records, err := e.history.Latest(ctx, "")
	if err != nil {
		return fmt.Errorf("恢复活动告警失败: %w", err)
	}
	e.active = map[Key]Alert{}
	// Latest 按时间倒序，同一键以最新的活动告警为准
	for i := len(records) - 1; i >= 0; i-- {
		if a := FromRecord(records[i]); a.Active() {
			e.active[a.Key()] = a
		}
	}
	e.restored = true
	slog.Info("活动告警已恢复", "count", len(e.active))
	return nil
}

// Active 当前活动告警
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, a)
	}
	sortAlerts(out)
	return out
}

type observation struct {
	breach   *Breach
	measured float64
}

// Process 每次运行调用一次：对账评分与违规，返回本次涉及的告警(含本次关闭的)
func (e *Engine) Process(ctx context.Context, reports []*scoring.ScoreReport, violations []RuleViolation) ([]Alert, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.restored {
		if err := e.restore(ctx); err != nil {
			return nil, err
		}
	}
	now := e.now().UTC()
	observed := e.observe(reports, violations)

	keys := make([]Key, 0, len(observed)+len(e.active))
	for k := range observed {
		keys = append(keys, k)
	}
	for k := range e.active {
		if _, ok := observed[k]; !ok {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)

	var (
		touched  []Alert
		firstErr error
	)
	record := func(a Alert, event string) {
		if err := e.emit(ctx, a, event, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, k := range keys {
		obs, seen := observed[k]
		current, active := e.active[k]

		switch {
		case seen && obs.breach != nil && !active:
			a := Open(*obs.breach, e.cfg, now)
			record(a, models.AlertEventOpened)
			if escalated, ok := Escalate(a, now); ok {
				a = escalated
				record(a, models.AlertEventEscalated)
			}
			e.active[k] = a
			touched = append(touched, a)

		case seen && obs.breach != nil:
			a := current
			if updated, ok := Update(a, *obs.breach, e.cfg, now); ok {
				a = updated
				record(a, models.AlertEventUpdated)
			}
			if escalated, ok := Escalate(a, now); ok {
				a = escalated
				record(a, models.AlertEventEscalated)
			}
			e.active[k] = a
			touched = append(touched, a)

		case seen && active:
			a, _ := Resolve(current, obs.measured, now)
			record(a, models.AlertEventResolved)
			delete(e.active, k)
			touched = append(touched, a)

		case active:
			// 本次未观测到(数据集被排除)，只检查升级
			a := current
			if escalated, ok := Escalate(a, now); ok {
				a = escalated
				record(a, models.AlertEventEscalated)
				e.active[k] = a
			}
			touched = append(touched, a)
		}
	}

	slog.Info("告警对账完成",
		"run_id", audit.RunIDFrom(ctx),
		"observations", len(observed),
		"active", len(e.active),
		"touched", len(touched))
	return touched, firstErr
}

// Tick 无评分时检查升级，供定时任务调用
func (e *Engine) Tick(ctx context.Context) ([]Alert, error) {
	return e.Process(ctx, nil, nil)
}

// observe 将评分与违规转换为观测，未配置阈值的来源不参与
func (e *Engine) observe(reports []*scoring.ScoreReport, violations []RuleViolation) map[Key]observation {
	out := map[Key]observation{}
	scoreObs := func(dataset, source string, score, threshold float64) {
		k := Key{Dataset: dataset, Source: source}
		if score < threshold {
			out[k] = observation{breach: &Breach{
				Dataset:   dataset,
				Source:    source,
				Measured:  score,
				Threshold: threshold,
				Deviation: rules.Round2(100 - score),
			}}
			return
		}
		out[k] = observation{measured: score}
	}

	for _, r := range reports {
		for _, d := range r.Dimensions {
			threshold, ok := e.cfg.Thresholds[d.Dimension]
			if !ok {
				continue
			}
			scoreObs(r.Dataset, string(d.Dimension), d.Score, threshold)
		}
		if e.cfg.AggregateThreshold > 0 {
			scoreObs(r.Dataset, models.AggregateSource, r.Aggregate, e.cfg.AggregateThreshold)
		}
	}

	for _, v := range violations {
		limit, ok := e.cfg.RuleLimits[v.RuleID]
		if !ok {
			continue
		}
		k := Key{Dataset: v.Dataset, Source: v.RuleID}
		rate := v.Rate()
		if rate > limit {
			out[k] = observation{breach: &Breach{
				Dataset:   v.Dataset,
				Source:    v.RuleID,
				Measured:  rate,
				Threshold: limit,
				Deviation: rate,
			}}
			continue
		}
		out[k] = observation{measured: rate}
	}
	return out
}

// emit 写入历史并分发通知；通知失败不影响结果
func (e *Engine) emit(ctx context.Context, a Alert, event string, now time.Time) error {
	runID := audit.RunIDFrom(ctx)
	if err := e.history.Append(ctx, a.Record(event, runID, now)); err != nil {
		return fmt.Errorf("记录告警 %s 失败: %w", a.ID, err)
	}

	n := Notification{Event: event, RunID: runID, Alert: a, Recipients: a.Recipients, SentAt: now}
	for _, notifier := range e.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			slog.Warn("告警通知发送失败", "notifier", notifier.Name(), "alert_id", a.ID, "error", err)
		}
	}
	return nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Dataset != keys[j].Dataset {
			return keys[i].Dataset < keys[j].Dataset
		}
		return keys[i].Source < keys[j].Source
	})
}

func sortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].Dataset != alerts[j].Dataset {
			return alerts[i].Dataset < alerts[j].Dataset
		}
		return alerts[i].Source < alerts[j].Source
	})
}
