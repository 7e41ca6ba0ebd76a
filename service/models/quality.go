package models

// Dimension 数据质量维度
type Dimension string

const (
	Completeness Dimension = "completeness"
	Uniqueness   Dimension = "uniqueness"
	Validity     Dimension = "validity"
	Consistency  Dimension = "consistency"
	Accuracy     Dimension = "accuracy"
	Timeliness   Dimension = "timeliness"
)

// AllDimensions 六个维度，顺序固定
var AllDimensions = []Dimension{Completeness, Uniqueness, Validity, Consistency, Accuracy, Timeliness}

// AggregateSource 综合评分作为告警来源时的名称
const AggregateSource = "aggregate"

// Severity 告警严重级别
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities 由低到高
var AllSeverities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// Rank 严重级别序号，越大越严重
func (s Severity) Rank() int {
	for i, v := range AllSeverities {
		if v == s {
			return i
		}
	}
	return -1
}
