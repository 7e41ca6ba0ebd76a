/*
 * @module service/pipeline/runner
 * @description 质量流水线编排：一次运行 = 摄取 -> 清洗 -> 清洗前后评分 -> 告警对账 -> 生成并保存报告
 * @architecture 分层架构 - 业务编排层
 * @documentReference DESIGN.md
 * @stateFlow Run -> 运行 ID -> IngestAll -> Clean -> ScoreAll(raw/cleaned) -> Process -> Build -> Save -> 指标
 * @rules 同一时刻只允许一次运行；配置错误在处理任何数据集之前失败；单个数据集失败不影响其他数据集
 * @dependencies github.com/google/uuid, service/runlock, service/metrics
 * @refs service/pipeline/scheduler.go, api/controllers/pipeline_controller.go, cmd/dqctl
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/config"
	"dataquality-service/service/ingestion"
	"dataquality-service/service/metrics"
	"dataquality-service/service/models"
	"dataquality-service/service/report"
	"dataquality-service/service/runlock"
	"dataquality-service/service/scoring"

	"github.com/google/uuid"
)

const (
	lockKey = "batch"
	lockTTL = 30 * time.Minute
)

// Options 运行器依赖，未设置的项使用内存实现
type Options struct {
	Recorder *audit.Recorder
	Alerts   *alerting.Engine
	Reports  report.Store
	Metrics  *metrics.Metrics
	// Lock 跨进程运行锁，为空时只做进程内互斥
	Lock    runlock.Lock
	Now     func() time.Time
	Sources func() []ingestion.Source
	// Sink 清洗后数据集的输出目标，为空时不输出
	Sink    cleaning.Sink
}

// Runner 质量流水线运行器
type Runner struct {
	settings *config.Settings
	ingest   *ingestion.Pipeline
	cleaner  *cleaning.Cleaner
	scorer   *scoring.Scorer
	alerts   *alerting.Engine
	reports  report.Store
	metrics  *metrics.Metrics
	executor *runlock.Executor
	recorder *audit.Recorder
	now      func() time.Time
	sources  func() []ingestion.Source
	sink     cleaning.Sink

	mu      sync.Mutex
	running bool
}

// NewRunner 校验配置并创建运行器
func NewRunner(settings *config.Settings, opts Options) (*Runner, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	scorer, err := scoring.NewScorer(settings, opts.Now)
	if err != nil {
		return nil, err
	}
	if opts.Recorder == nil {
		opts.Recorder = audit.NewRecorder(opts.Now)
	}
	if opts.Alerts == nil {
		opts.Alerts = alerting.NewEngine(settings, nil, opts.Now, alerting.LogNotifier{})
	}
	if opts.Reports == nil {
		opts.Reports = report.NewMemoryStore()
	}
	if opts.Sources == nil {
		opts.Sources = func() []ingestion.Source { return ingestion.SourcesFromSettings(settings) }
	}

	r := &Runner{
		settings: settings,
		ingest:   ingestion.NewPipeline(settings, opts.Recorder),
		cleaner:  cleaning.NewCleaner(settings, opts.Now),
		scorer:   scorer,
		alerts:   opts.Alerts,
		reports:  opts.Reports,
		metrics:  opts.Metrics,
		recorder: opts.Recorder,
		now:      opts.Now,
		sources:  opts.Sources,
		sink:     opts.Sink,
	}
	if opts.Lock != nil {
		r.executor = runlock.NewExecutor(opts.Lock, lockTTL, lockTTL/3)
	}
	return r, nil
}

// Alerts 告警引擎
func (r *Runner) Alerts() *alerting.Engine {
	return r.alerts
}

// Reports 报告存储
func (r *Runner) Reports() report.Store {
	return r.reports
}

// Recorder 审计记录器
func (r *Runner) Recorder() *audit.Recorder {
	return r.recorder
}

// Running 是否有运行正在进行
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Run 执行一次完整运行。告警历史写入失败时报告仍然生成并保存，同时返回错误
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, models.ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	if r.executor == nil {
		return r.run(ctx)
	}

	var (
		rep    *report.Report
		runErr error
	)
	err := r.executor.Execute(ctx, lockKey, func(ctx context.Context) error {
		rep, runErr = r.run(ctx)
		return nil
	})
	if errors.Is(err, runlock.ErrLockHeld) {
		return nil, models.ErrRunInProgress
	}
	if err != nil {
		return nil, err
	}
	return rep, runErr
}

func (r *Runner) run(ctx context.Context) (rep *report.Report, err error) {
	runID := uuid.New().String()
	ctx = audit.WithRunID(ctx, runID)
	start := time.Now()
	slog.Info("质量流水线开始运行", "run_id", runID)

	defer func() {
		outcome := "success"
		switch {
		case rep == nil:
			outcome = "failed"
		case err != nil:
			outcome = "partial"
		}
		if r.metrics != nil {
			r.metrics.ObserveRun(outcome, time.Since(start))
		}
		slog.Info("质量流水线运行结束", "run_id", runID, "outcome", outcome, "duration", time.Since(start))
	}()

	batch := r.ingest.IngestAll(ctx, r.sources())

	cleaned, err := r.cleaner.Clean(ctx, batch.Datasets)
	if err != nil {
		return nil, fmt.Errorf("清洗失败: %w", err)
	}

	before, err := r.scorer.ScoreAll(batch.Datasets)
	if err != nil {
		return nil, fmt.Errorf("清洗前评分失败: %w", err)
	}
	after, err := r.scorer.ScoreAll(cleaned.Datasets)
	if err != nil {
		return nil, fmt.Errorf("清洗后评分失败: %w", err)
	}

	violations := Violations(r.settings, batch, cleaned)
	alerts, alertErr := r.alerts.Process(ctx, after.Reports, violations)
	if alertErr != nil {
		slog.Error("告警对账失败", "run_id", runID, "error", alertErr)
	}

	rep = report.Build(r.settings, report.Input{
		RunID:       runID,
		GeneratedAt: r.now().UTC(),
		Batch:       batch,
		Cleaning:    cleaned,
		Before:      before,
		After:       after,
		Alerts:      alerts,
	})
	if err := r.reports.Save(ctx, rep); err != nil {
		return rep, fmt.Errorf("保存质量报告失败: %w", err)
	}
	r.observe(batch, cleaned, before, after)

	slog.Info("质量报告已生成",
		"run_id", runID,
		"overall", rep.Overall,
		"classification", rep.Classification,
		"excluded", len(rep.Summary.Excluded),
		"removed", len(rep.Summary.Removed),
		"alerts", len(alerts))

	var exportErr error
	if r.sink != nil {
		if exportErr = cleaned.Export(ctx, r.sink); exportErr != nil {
			slog.Error("输出清洗结果失败", "run_id", runID, "error", exportErr)
		}
	}

	if err := errors.Join(alertErr, exportErr); err != nil {
		return rep, err
	}
	return rep, nil
}

// Violations 由摄取与清洗结果计算各数据集的规则违规比例
func Violations(settings *config.Settings, batch *ingestion.Batch, cleaned *cleaning.Result) []alerting.RuleViolation {
	removed := map[string]map[cleaning.Action]int{}
	for _, c := range cleaned.Log.Entries() {
		if !c.Action.Removes() {
			continue
		}
		if removed[c.Dataset] == nil {
			removed[c.Dataset] = map[cleaning.Action]int{}
		}
		removed[c.Dataset][c.Action]++
	}

	var out []alerting.RuleViolation
	for _, name := range settings.DatasetNames() {
		_, schemaFailed := batch.Excluded[name]
		_, blocked := cleaned.Excluded[name]
		excluded := 0
		if schemaFailed || blocked {
			excluded = 1
		}
		out = append(out, alerting.RuleViolation{Dataset: name, RuleID: config.RuleSchemaError, Affected: excluded, Total: 1})

		ds, ok := batch.Datasets[name]
		if !ok || blocked {
			continue
		}
		total := ds.Len()
		counts := removed[name]
		out = append(out,
			alerting.RuleViolation{Dataset: name, RuleID: config.RuleOrphanRate, Affected: counts[cleaning.ActionOrphan], Total: total},
			alerting.RuleViolation{Dataset: name, RuleID: config.RuleQuarantineRate, Affected: counts[cleaning.ActionQuarantine], Total: total},
			alerting.RuleViolation{Dataset: name, RuleID: config.RuleConflict, Affected: counts[cleaning.ActionConflict], Total: total},
		)
	}
	return out
}

func (r *Runner) observe(batch *ingestion.Batch, cleaned *cleaning.Result, before, after *scoring.Summary) {
	m := r.metrics
	if m == nil {
		return
	}
	for name, ds := range batch.Datasets {
		m.Records.WithLabelValues(name, metrics.StageRaw).Set(float64(ds.Len()))
	}
	for name, ds := range cleaned.Datasets {
		m.Records.WithLabelValues(name, metrics.StageCleaned).Set(float64(ds.Len()))
	}
	for stage, summary := range map[string]*scoring.Summary{metrics.StageRaw: before, metrics.StageCleaned: after} {
		for _, s := range summary.Reports {
			m.AggregateScore.WithLabelValues(s.Dataset, stage).Set(s.Aggregate)
			for _, d := range s.Dimensions {
				m.DimensionScore.WithLabelValues(s.Dataset, string(d.Dimension), stage).Set(d.Score)
			}
		}
	}
	for _, c := range cleaned.Log.Entries() {
		m.Changes.WithLabelValues(c.Dataset, string(c.Action)).Inc()
	}

	excluded := map[string]bool{}
	for name := range batch.Excluded {
		excluded[name] = true
	}
	for name := range cleaned.Excluded {
		excluded[name] = true
	}
	m.ExcludedDataset.Set(float64(len(excluded)))

	m.ActiveAlerts.Reset()
	for _, a := range r.alerts.Active() {
		m.ActiveAlerts.WithLabelValues(string(a.Severity)).Inc()
	}
}
