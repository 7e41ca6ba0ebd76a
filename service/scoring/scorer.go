/*
 * @module service/scoring/scorer
 * @description 质量评分器：按六个维度对数据集评分并计算加权综合评分与分级
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow Dataset -> 逐维度统计通过记录 -> 维度评分 -> 加权综合评分 -> 分级
 * @rules 评分为纯函数，时钟由构造函数注入；所有评分在 [0,100]；空数据集各维度为 100
 * @dependencies dataquality-service/service/rules, dataquality-service/service/config
 * @refs service/alerting, service/report, service/pipeline
 */

package scoring

import (
	"fmt"
	"math"
	"sort"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/service/rules"
)

// DimensionScore 单个维度的评分
type DimensionScore struct {
	Dimension models.Dimension `json:"dimension"`
	Score     float64          `json:"score"`
	Passed    int              `json:"passed"`
	Total     int              `json:"total"`
	Threshold float64          `json:"threshold,omitempty"`
}

// Failed 未通过的数量
func (d DimensionScore) Failed() int {
	return d.Total - d.Passed
}

// ScoreReport 单个数据集的评分报告
type ScoreReport struct {
	Dataset        string           `json:"dataset"`
	Records        int              `json:"records"`
	Dimensions     []DimensionScore `json:"dimensions"`
	Aggregate      float64          `json:"aggregate"`
	Classification string           `json:"classification"`
	ScoredAt       time.Time        `json:"scored_at"`
}

// Score 返回维度评分，未评分的维度返回 100
func (r *ScoreReport) Score(d models.Dimension) float64 {
	for _, s := range r.Dimensions {
		if s.Dimension == d {
			return s.Score
		}
	}
	return 100
}

// Dimension 返回维度明细
func (r *ScoreReport) Dimension(d models.Dimension) (DimensionScore, bool) {
	for _, s := range r.Dimensions {
		if s.Dimension == d {
			return s, true
		}
	}
	return DimensionScore{}, false
}

// Summary 多个数据集的评分汇总
type Summary struct {
	Reports        []*ScoreReport `json:"reports"`
	Aggregate      float64        `json:"aggregate"`
	Classification string         `json:"classification"`
}

// Report 按数据集名称查找
func (s *Summary) Report(dataset string) (*ScoreReport, bool) {
	for _, r := range s.Reports {
		if r.Dataset == dataset {
			return r, true
		}
	}
	return nil, false
}

// Scorer 质量评分器
type Scorer struct {
	settings   *config.Settings
	predicates map[string]*rules.Predicates
	now        func() time.Time
}

// NewScorer 创建评分器，编译全部数据集规则
func NewScorer(settings *config.Settings, now func() time.Time) (*Scorer, error) {
	if now == nil {
		now = time.Now
	}
	s := &Scorer{settings: settings, predicates: map[string]*rules.Predicates{}, now: now}
	for i := range settings.Datasets {
		schema := &settings.Datasets[i]
		p, err := rules.Compile(schema)
		if err != nil {
			return nil, &models.ConfigurationError{Problems: []string{err.Error()}}
		}
		s.predicates[schema.Name] = p
	}
	return s, nil
}

// Score 对单个数据集评分
func (s *Scorer) Score(ds *models.Dataset) (*ScoreReport, error) {
	p, ok := s.predicates[ds.Name]
	if !ok {
		return nil, fmt.Errorf("数据集 %s 未在配置中声明", ds.Name)
	}
	now := s.now().UTC()
	schema := p.Schema()

	report := &ScoreReport{Dataset: ds.Name, Records: ds.Len(), ScoredAt: now}
	for _, d := range models.AllDimensions {
		var passed, total int
		switch d {
		case models.Completeness:
			passed, total = completeness(schema, ds)
		case models.Uniqueness:
			passed, total = uniqueness(schema, ds)
		case models.Validity:
			passed, total = count(ds, p.Valid)
		case models.Consistency:
			passed, total = count(ds, p.Consistent)
		case models.Accuracy:
			passed, total = count(ds, func(r models.Record) bool { return p.Plausible(r, now) })
		case models.Timeliness:
			passed, total = count(ds, func(r models.Record) bool { return p.Timely(r, now) })
		}
		report.Dimensions = append(report.Dimensions, DimensionScore{
			Dimension: d,
			Score:     ratio(passed, total),
			Passed:    passed,
			Total:     total,
			Threshold: s.settings.Alerting.Thresholds[d],
		})
	}

	report.Aggregate = s.aggregate(report.Dimensions)
	report.Classification = s.settings.Scoring.Classify(report.Aggregate)
	return report, nil
}

// ScoreAll 对多个数据集评分，总体评分为各数据集综合评分的平均值
func (s *Scorer) ScoreAll(datasets map[string]*models.Dataset) (*Summary, error) {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	summary := &Summary{}
	total := 0.0
	for _, name := range names {
		report, err := s.Score(datasets[name])
		if err != nil {
			return nil, err
		}
		summary.Reports = append(summary.Reports, report)
		total += report.Aggregate
	}
	summary.Aggregate = 100
	if len(summary.Reports) > 0 {
		summary.Aggregate = rules.Round2(total / float64(len(summary.Reports)))
	}
	summary.Classification = s.settings.Scoring.Classify(summary.Aggregate)
	return summary, nil
}

func (s *Scorer) aggregate(scores []DimensionScore) float64 {
	var sum, weights float64
	for _, d := range scores {
		w := s.settings.Scoring.Weight(d.Dimension)
		if w <= 0 {
			continue
		}
		sum += d.Score * w
		weights += w
	}
	if weights == 0 {
		return 100
	}
	return clamp(rules.Round2(sum / weights))
}

// completeness 以关键列的单元格为单位统计
func completeness(schema *config.DatasetSchema, ds *models.Dataset) (int, int) {
	critical := schema.CriticalColumns()
	var passed, total int
	for _, r := range ds.Records {
		for _, c := range critical {
			total++
			if !r.Get(c).IsNull() {
				passed++
			}
		}
	}
	return passed, total
}

// uniqueness 任一标识键与先出现的记录重复即计为重复记录
func uniqueness(schema *config.DatasetSchema, ds *models.Dataset) (int, int) {
	seen := make([]map[string]bool, len(schema.IdentityKeys))
	for i := range seen {
		seen[i] = map[string]bool{}
	}
	passed := 0
	for _, r := range ds.Records {
		dup := false
		for i, key := range schema.IdentityKeys {
			v := r.Get(key)
			if kind := schema.NormalizationFor(key); kind != "" {
				v = rules.Normalize(kind, v)
			}
			k := rules.KeyOf(v)
			if k == "" {
				continue
			}
			if seen[i][k] {
				dup = true
			}
			seen[i][k] = true
		}
		if !dup {
			passed++
		}
	}
	return passed, ds.Len()
}

func count(ds *models.Dataset, pass func(models.Record) bool) (int, int) {
	passed := 0
	for _, r := range ds.Records {
		if pass(r) {
			passed++
		}
	}
	return passed, ds.Len()
}

func ratio(passed, total int) float64 {
	if total == 0 {
		return 100
	}
	return clamp(rules.Round2(float64(passed) / float64(total) * 100))
}

func clamp(f float64) float64 {
	return math.Max(0, math.Min(100, f))
}
