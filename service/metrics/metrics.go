/*
 * @module service/metrics/metrics
 * @description 质量引擎运行指标：运行次数与耗时、维度评分、记录数、修正动作与活动告警
 * @architecture 分层架构 - 可观测性
 * @documentReference DESIGN.md
 * @stateFlow 流水线运行结束 -> 更新指标 -> /metrics 暴露或写入 textfile
 * @rules 指标注册到注入的 Registerer，测试使用独立注册表
 * @dependencies github.com/prometheus/client_golang, github.com/prometheus/common/expfmt
 * @refs service/pipeline/runner.go, main.go, cmd/dqctl
 */

package metrics

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

const namespace = "dataquality"

// 评分阶段标签
const (
	StageRaw     = "raw"
	StageCleaned = "cleaned"
)

// Metrics 质量引擎指标
type Metrics struct {
	Runs            *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	DimensionScore  *prometheus.GaugeVec
	AggregateScore  *prometheus.GaugeVec
	Records         *prometheus.GaugeVec
	Changes         *prometheus.CounterVec
	ActiveAlerts    *prometheus.GaugeVec
	ExcludedDataset prometheus.Gauge
}

// New 在 reg 上注册全部指标
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Pipeline run duration",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		DimensionScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dimension_score",
			Help:      "Quality dimension score (0-100)",
		}, []string{"dataset", "dimension", "stage"}),
		AggregateScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "aggregate_score",
			Help:      "Weighted aggregate quality score (0-100)",
		}, []string{"dataset", "stage"}),
		Records: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "records",
			Help:      "Record count per dataset and stage",
		}, []string{"dataset", "stage"}),
		Changes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "corrections_total",
			Help:      "Cleaning corrections by dataset and action",
		}, []string{"dataset", "action"}),
		ActiveAlerts: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Open or escalated alerts by severity",
		}, []string{"severity"}),
		ExcludedDataset: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "excluded_datasets",
			Help:      "Datasets excluded from the last run",
		}),
	}
}

// ObserveRun 记录一次运行
func (m *Metrics) ObserveRun(outcome string, d time.Duration) {
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(d.Seconds())
}

// WriteText 以文本格式输出 gatherer 中的全部指标
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("采集指标失败: %w", err)
	}
	enc := expfmt.NewEncoder(w, expfmt.FmtText)
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("编码指标失败: %w", err)
		}
	}
	return nil
}

// WriteTextfile 原子写入 node_exporter textfile 收集器文件
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("创建指标目录失败: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".metrics-*")
	if err != nil {
		return fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteText(tmp, g); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("写入指标文件失败: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("写入指标文件失败: %w", err)
	}
	return nil
}
