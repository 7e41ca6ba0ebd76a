/*
 * @module service/config/settings
 * @description 质量引擎配置对象：数据集结构、清洗规则、评分规则、告警阈值与 SLA
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow 默认配置/YAML 加载 -> 环境变量覆盖 -> 校验 -> 注入各组件构造函数
 * @rules 校验通过后视为只读；评分与告警逻辑中不得出现硬编码阈值
 * @dependencies time, dataquality-service/service/models
 * @refs service/ingestion, service/cleaning, service/scoring, service/alerting
 */

package config

import (
	"time"

	"dataquality-service/service/models"
)

// 列类型
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeDate    = "date"
)

// 标准化方式
const (
	NormalizeUpper   = "upper"
	NormalizeLower   = "lower"
	NormalizeTitle   = "title"
	NormalizeTrim    = "trim"
	NormalizeDigits  = "digits"
	NormalizeEmail   = "email"
	NormalizeISODate = "iso_date"
	NormalizeBool    = "bool"
)

// 越界处理方式
const (
	RangeAbs    = "abs"
	RangeReject = "reject"
	RangeClamp  = "clamp"
	RangeZero   = "zero"
)

// 一致性规则类型
const (
	ConsistencyUppercase = "uppercase"
	ConsistencyISODate   = "iso_date"
	ConsistencyDateOrder = "date_order"
)

// 合理性规则类型
const (
	PlausibilityRange  = "range"
	PlausibilityAge    = "age"
	PlausibilityLength = "length"
)

// 规则违规来源
const (
	RuleOrphanRate     = "orphan_rate"
	RuleQuarantineRate = "quarantine_rate"
	RuleConflict       = "rule_conflict"
	RuleSchemaError    = "schema_error"
)

// Settings 完整配置
type Settings struct {
	Ingestion IngestionConfig `yaml:"ingestion" json:"ingestion"`
	Datasets  []DatasetSchema `yaml:"datasets" json:"datasets"`
	Scoring   ScoringConfig   `yaml:"scoring" json:"scoring"`
	Alerting  AlertingConfig  `yaml:"alerting" json:"alerting"`
	Schedule  string          `yaml:"schedule" json:"schedule"` // cron 表达式，为空则不定时运行
}

// IngestionConfig 摄取配置
type IngestionConfig struct {
	DataDir   string `yaml:"data_dir" json:"data_dir"`
	Delimiter string `yaml:"delimiter" json:"delimiter"`
	Encoding  string `yaml:"encoding" json:"encoding"` // utf-8, latin1, windows-1252, gbk
}

// DatasetSchema 单个数据集的结构与规则
type DatasetSchema struct {
	Name      string       `yaml:"name" json:"name"`
	File      string       `yaml:"file" json:"file"`
	Encoding  string       `yaml:"encoding,omitempty" json:"encoding,omitempty"`
	Delimiter string       `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	Columns   []ColumnSpec `yaml:"columns" json:"columns"`

	// IdentityKeys 第一个为主键，其余为次级唯一键
	IdentityKeys  []string     `yaml:"identity_keys" json:"identity_keys"`
	RecencyColumn string       `yaml:"recency_column" json:"recency_column"`
	ForeignKeys   []ForeignKey `yaml:"foreign_keys" json:"foreign_keys"`

	Normalizations []Normalization `yaml:"normalizations" json:"normalizations"`
	RangeRules     []RangeRule     `yaml:"range_rules" json:"range_rules"`
	NoFutureDates  []string        `yaml:"no_future_dates" json:"no_future_dates"`
	DerivedRules   []DerivedRule   `yaml:"derived_rules" json:"derived_rules"`

	FormatRules       []FormatRule       `yaml:"format_rules" json:"format_rules"`
	ConsistencyRules  []ConsistencyRule  `yaml:"consistency_rules" json:"consistency_rules"`
	PlausibilityRules []PlausibilityRule `yaml:"plausibility_rules" json:"plausibility_rules"`
	Freshness         *Freshness         `yaml:"freshness,omitempty" json:"freshness,omitempty"`
}

// ColumnSpec 列声明
type ColumnSpec struct {
	Name     string  `yaml:"name" json:"name"`
	Type     string  `yaml:"type" json:"type"`
	Nullable bool    `yaml:"nullable" json:"nullable"`
	Critical bool    `yaml:"critical" json:"critical"`
	Default  *string `yaml:"default,omitempty" json:"default,omitempty"` // 支持 {列名} 占位符
}

// ForeignKey 跨数据集引用
type ForeignKey struct {
	Column       string `yaml:"column" json:"column"`
	References   string `yaml:"references" json:"references"`
	RefColumn    string `yaml:"ref_column" json:"ref_column"`
	ActiveColumn string `yaml:"active_column,omitempty" json:"active_column,omitempty"` // 显式 false 视为未启用
}

// Normalization 字段标准化
type Normalization struct {
	Column string `yaml:"column" json:"column"`
	Kind   string `yaml:"kind" json:"kind"`
}

// RangeRule 数值范围修正
type RangeRule struct {
	Column string   `yaml:"column" json:"column"`
	Min    *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max    *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	Action string   `yaml:"action" json:"action"`
}

// DerivedRule 派生字段，Target = 各 Factors 之积
type DerivedRule struct {
	Target    string   `yaml:"target" json:"target"`
	Factors   []string `yaml:"factors" json:"factors"`
	Tolerance float64  `yaml:"tolerance" json:"tolerance"`
}

// FormatRule 有效性规则，同一条规则内的条件须全部满足
type FormatRule struct {
	Column    string   `yaml:"column" json:"column"`
	Pattern   string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	MinDigits int      `yaml:"min_digits,omitempty" json:"min_digits,omitempty"`
	MaxDigits int      `yaml:"max_digits,omitempty" json:"max_digits,omitempty"`
	Enum      []string `yaml:"enum,omitempty" json:"enum,omitempty"`
	Min       *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max       *float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// ConsistencyRule 跨字段不变式
type ConsistencyRule struct {
	Kind   string `yaml:"kind" json:"kind"`
	Column string `yaml:"column" json:"column"`
	Other  string `yaml:"other,omitempty" json:"other,omitempty"` // date_order: Column <= Other
}

// PlausibilityRule 合理性规则
type PlausibilityRule struct {
	Kind   string  `yaml:"kind" json:"kind"`
	Column string  `yaml:"column" json:"column"`
	Min    float64 `yaml:"min" json:"min"`
	Max    float64 `yaml:"max" json:"max"`
}

// Freshness 时效性 SLA
type Freshness struct {
	Column string        `yaml:"column" json:"column"`
	MaxAge time.Duration `yaml:"max_age" json:"max_age"`
}

// ScoringConfig 评分配置
type ScoringConfig struct {
	Weights        map[models.Dimension]float64 `yaml:"weights" json:"weights"`
	Classification []ClassificationBand         `yaml:"classification" json:"classification"`
}

// ClassificationBand 综合评分分级，按 Min 从高到低匹配
type ClassificationBand struct {
	Label          string  `yaml:"label" json:"label"`
	Min            float64 `yaml:"min" json:"min"`
	Recommendation string  `yaml:"recommendation,omitempty" json:"recommendation,omitempty"`
}

// AlertingConfig 告警配置
type AlertingConfig struct {
	Thresholds         map[models.Dimension]float64      `yaml:"thresholds" json:"thresholds"`
	AggregateThreshold float64                           `yaml:"aggregate_threshold" json:"aggregate_threshold"`
	RuleLimits         map[string]float64                `yaml:"rule_limits" json:"rule_limits"` // 违规比例上限(%)
	SeverityBands      []SeverityBand                    `yaml:"severity_bands" json:"severity_bands"`
	SLA                map[models.Severity]time.Duration `yaml:"sla" json:"sla"`
	Recipients         map[models.Severity][]string      `yaml:"recipients" json:"recipients"`
}

// SeverityBand 偏差区间，Min 含、Max 不含
type SeverityBand struct {
	Severity models.Severity `yaml:"severity" json:"severity"`
	Min      float64         `yaml:"min" json:"min"`
	Max      float64         `yaml:"max" json:"max"`
}

// Dataset 按名称查找数据集配置
func (s *Settings) Dataset(name string) (*DatasetSchema, bool) {
	for i := range s.Datasets {
		if s.Datasets[i].Name == name {
			return &s.Datasets[i], true
		}
	}
	return nil, false
}

// DatasetNames 配置中的数据集名称，保持声明顺序
func (s *Settings) DatasetNames() []string {
	names := make([]string, 0, len(s.Datasets))
	for _, d := range s.Datasets {
		names = append(names, d.Name)
	}
	return names
}

// Column 查找列声明
func (d *DatasetSchema) Column(name string) (*ColumnSpec, bool) {
	for i := range d.Columns {
		if d.Columns[i].Name == name {
			return &d.Columns[i], true
		}
	}
	return nil, false
}

// ColumnNames 声明的列名
func (d *DatasetSchema) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		names = append(names, c.Name)
	}
	return names
}

// CriticalColumns 关键列
func (d *DatasetSchema) CriticalColumns() []string {
	var names []string
	for _, c := range d.Columns {
		if c.Critical {
			names = append(names, c.Name)
		}
	}
	return names
}

// PrimaryKey 主键列，未声明时为空
func (d *DatasetSchema) PrimaryKey() string {
	if len(d.IdentityKeys) == 0 {
		return ""
	}
	return d.IdentityKeys[0]
}

// NormalizationFor 返回列的标准化方式
func (d *DatasetSchema) NormalizationFor(column string) string {
	for _, n := range d.Normalizations {
		if n.Column == column {
			return n.Kind
		}
	}
	return ""
}

// RangeRulesFor 返回作用于列的范围规则
func (d *DatasetSchema) RangeRulesFor(column string) []RangeRule {
	var rules []RangeRule
	for _, r := range d.RangeRules {
		if r.Column == column {
			rules = append(rules, r)
		}
	}
	return rules
}

// SeverityFor 按偏差返回严重级别；低于最低区间返回 false
func (a *AlertingConfig) SeverityFor(deviation float64) (models.Severity, bool) {
	var (
		found bool
		sev   models.Severity
		best  = -1.0
	)
	for _, b := range a.SeverityBands {
		if deviation >= b.Min && b.Min > best {
			best = b.Min
			sev = b.Severity
			found = true
		}
	}
	return sev, found
}

// Band 返回综合评分所在的分级区间，低于所有区间时返回最低区间
func (s *ScoringConfig) Band(score float64) ClassificationBand {
	var (
		found  bool
		band   ClassificationBand
		lowest ClassificationBand
	)
	for i, b := range s.Classification {
		if score >= b.Min && (!found || b.Min > band.Min) {
			band = b
			found = true
		}
		if i == 0 || b.Min < lowest.Min {
			lowest = b
		}
	}
	if !found {
		return lowest
	}
	return band
}

// Classify 返回综合评分分级标签
func (s *ScoringConfig) Classify(score float64) string {
	return s.Band(score).Label
}

// Weight 维度权重，未配置时为 1
func (s *ScoringConfig) Weight(d models.Dimension) float64 {
	if w, ok := s.Weights[d]; ok {
		return w
	}
	return 1
}
