/*
 * @module service/models/dataset
 * @description 内存表模型，定义类型化取值、记录和数据集，是摄取、清洗、评分之间传递的核心结构
 * @architecture 数据模型层
 * @documentReference DESIGN.md
 * @stateFlow 摄取生成 -> 清洗产生新版本 -> 评分/告警只读
 * @rules 同一数据集内所有记录拥有相同列集合；清洗不得原地修改输入数据集
 * @dependencies time
 * @refs service/ingestion, service/cleaning, service/scoring
 */

package models

import (
	"fmt"
	"strconv"
	"time"
)

// ValueKind 取值类型
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindDate
)

// String 返回类型名称
func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindDate:
		return "date"
	default:
		return "null"
	}
}

// ISODateLayout 日期统一输出格式
const ISODateLayout = "2006-01-02"

// ISODateTimeLayout 带时间的统一输出格式
const ISODateTimeLayout = "2006-01-02T15:04:05"

// Value 类型化单元格取值
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Time time.Time
}

// Null 空值
func Null() Value { return Value{Kind: KindNull} }

// String 字符串取值
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Number 数值取值
func Number(n float64) Value { return Value{Kind: KindNumber, Num: n} }

// Bool 布尔取值
func Bool(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// Date 日期取值
func Date(t time.Time) Value { return Value{Kind: KindDate, Time: t} }

// IsNull 是否为空值
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal 判断两个取值是否相同
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindString:
		return v.Str == o.Str
	case KindNumber:
		return v.Num == o.Num
	case KindBool:
		return v.Bool == o.Bool
	case KindDate:
		return v.Time.Equal(o.Time)
	}
	return false
}

// String 以文本形式输出取值，日期输出 ISO-8601
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindDate:
		if v.Time.Hour() == 0 && v.Time.Minute() == 0 && v.Time.Second() == 0 {
			return v.Time.Format(ISODateLayout)
		}
		return v.Time.Format(ISODateTimeLayout)
	default:
		return ""
	}
}

// Interface 转换为可 JSON 序列化的值
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindDate:
		return v.String()
	default:
		return nil
	}
}

// Record 单条记录，列名到取值的映射
type Record map[string]Value

// Get 获取列值，不存在时返回空值
func (r Record) Get(column string) Value {
	if v, ok := r[column]; ok {
		return v
	}
	return Null()
}

// Clone 复制记录
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Snapshot 转换为普通映射，用于日志与审计
func (r Record) Snapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(r))
	for k, v := range r {
		out[k] = v.Interface()
	}
	return out
}

// Dataset 具名、有序的记录集合
type Dataset struct {
	Name    string
	Columns []string
	Records []Record
}

// NewDataset 创建空数据集
func NewDataset(name string, columns []string) *Dataset {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Dataset{Name: name, Columns: cols, Records: []Record{}}
}

// Len 记录数
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// Clone 深拷贝数据集
func (d *Dataset) Clone() *Dataset {
	out := NewDataset(d.Name, d.Columns)
	out.Records = make([]Record, len(d.Records))
	for i, r := range d.Records {
		out.Records[i] = r.Clone()
	}
	return out
}

// WithRecords 以相同名称和列创建新版本
func (d *Dataset) WithRecords(records []Record) *Dataset {
	out := NewDataset(d.Name, d.Columns)
	out.Records = records
	return out
}

// HasColumn 是否包含指定列
func (d *Dataset) HasColumn(column string) bool {
	for _, c := range d.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// RecordKey 返回记录在日志中的标识，优先使用主键列
func RecordKey(r Record, keyColumn string, index int) string {
	if keyColumn != "" {
		if v := r.Get(keyColumn); !v.IsNull() && v.String() != "" {
			return v.String()
		}
	}
	return fmt.Sprintf("#%d", index)
}
