/*
 * @module service/rules/predicates
 * @description 记录级判定：有效性、一致性、合理性、时效性、派生字段
 * @architecture 分层架构 - 规则工具层
 * @documentReference DESIGN.md
 * @stateFlow DatasetSchema -> Compile -> Predicates -> 逐条记录判定
 * @rules 判定为纯函数；Null 在有效性/一致性/合理性中视为通过，由完整性维度负责
 * @dependencies regexp, time, unicode/utf8
 * @refs service/scoring, service/cleaning
 */

package rules

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
)

// floatSlack 浮点比较余量
const floatSlack = 1e-9

// Predicates 编译后的数据集判定集合
type Predicates struct {
	schema   *config.DatasetSchema
	patterns map[int]*regexp.Regexp
	enums    map[int]map[string]bool
}

// Compile 编译数据集规则
func Compile(schema *config.DatasetSchema) (*Predicates, error) {
	p := &Predicates{
		schema:   schema,
		patterns: map[int]*regexp.Regexp{},
		enums:    map[int]map[string]bool{},
	}
	for i, f := range schema.FormatRules {
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("编译数据集 %s 列 %s 正则失败: %w", schema.Name, f.Column, err)
			}
			p.patterns[i] = re
		}
		if len(f.Enum) > 0 {
			set := make(map[string]bool, len(f.Enum))
			for _, e := range f.Enum {
				set[e] = true
			}
			p.enums[i] = set
		}
	}
	return p, nil
}

// Schema 对应的数据集配置
func (p *Predicates) Schema() *config.DatasetSchema {
	return p.schema
}

// Valid 记录是否满足所有类型声明与格式规则
func (p *Predicates) Valid(r models.Record) bool {
	for _, c := range p.schema.Columns {
		if !MatchesType(c.Type, r.Get(c.Name)) {
			return false
		}
	}
	for i, f := range p.schema.FormatRules {
		if !p.format(i, f, r.Get(f.Column)) {
			return false
		}
	}
	return true
}

func (p *Predicates) format(i int, f config.FormatRule, v models.Value) bool {
	if v.IsNull() {
		return true
	}
	text := v.String()
	if re, ok := p.patterns[i]; ok && !re.MatchString(text) {
		return false
	}
	if f.MinDigits > 0 || f.MaxDigits > 0 {
		if !allDigits(text) {
			return false
		}
		n := len(text)
		if f.MinDigits > 0 && n < f.MinDigits {
			return false
		}
		if f.MaxDigits > 0 && n > f.MaxDigits {
			return false
		}
	}
	if set, ok := p.enums[i]; ok && !set[text] {
		return false
	}
	if f.Min != nil || f.Max != nil {
		n, ok := Number(v)
		if !ok {
			return false
		}
		if f.Min != nil && n < *f.Min-floatSlack {
			return false
		}
		if f.Max != nil && n > *f.Max+floatSlack {
			return false
		}
	}
	return true
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isDigit(r) {
			return false
		}
	}
	return true
}

// isDigit 只接受 ASCII 数字，位数按字节计算的前提
func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Consistent 记录是否满足派生字段容差与跨字段不变式
func (p *Predicates) Consistent(r models.Record) bool {
	for _, d := range p.schema.DerivedRules {
		if !DerivedConsistent(r, d) {
			return false
		}
	}
	for _, c := range p.schema.ConsistencyRules {
		if !consistencyRule(c, r) {
			return false
		}
	}
	return true
}

func consistencyRule(c config.ConsistencyRule, r models.Record) bool {
	v := r.Get(c.Column)
	if v.IsNull() {
		return true
	}
	switch c.Kind {
	case config.ConsistencyUppercase:
		return v.Kind == models.KindString && v.Str == strings.ToUpper(v.Str)
	case config.ConsistencyISODate:
		return v.Kind == models.KindDate
	case config.ConsistencyDateOrder:
		other := r.Get(c.Other)
		if other.IsNull() {
			return true
		}
		if v.Kind != models.KindDate || other.Kind != models.KindDate {
			return false
		}
		return !v.Time.After(other.Time)
	}
	return true
}

// DerivedValue 计算派生字段期望值；任一因子非数值时返回 false
func DerivedValue(r models.Record, d config.DerivedRule) (float64, bool) {
	product := 1.0
	for _, f := range d.Factors {
		n, ok := Number(r.Get(f))
		if !ok {
			return 0, false
		}
		product *= n
	}
	return Round2(product), true
}

// DerivedConsistent 派生字段是否在容差内；因子缺失时无法判定，视为通过
func DerivedConsistent(r models.Record, d config.DerivedRule) bool {
	want, ok := DerivedValue(r, d)
	if !ok {
		return true
	}
	got, ok := Number(r.Get(d.Target))
	if !ok {
		return false
	}
	return math.Abs(got-want) <= d.Tolerance+floatSlack
}

// Plausible 记录是否通过所有合理性检查
func (p *Predicates) Plausible(r models.Record, now time.Time) bool {
	for _, pr := range p.schema.PlausibilityRules {
		if !plausibility(pr, r.Get(pr.Column), now) {
			return false
		}
	}
	return true
}

func plausibility(pr config.PlausibilityRule, v models.Value, now time.Time) bool {
	if v.IsNull() {
		return true
	}
	var x float64
	switch pr.Kind {
	case config.PlausibilityRange:
		n, ok := Number(v)
		if !ok {
			return false
		}
		x = n
	case config.PlausibilityAge:
		if v.Kind != models.KindDate {
			return false
		}
		x = float64(AgeAt(v.Time, now))
	case config.PlausibilityLength:
		x = float64(utf8.RuneCountInString(strings.TrimSpace(v.String())))
	default:
		return true
	}
	return x >= pr.Min-floatSlack && x <= pr.Max+floatSlack
}

// AgeAt 计算到 now 为止的整岁
func AgeAt(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	return age
}

// Timely 记录的时间戳是否在时效窗口内；未配置时效时视为通过
func (p *Predicates) Timely(r models.Record, now time.Time) bool {
	f := p.schema.Freshness
	if f == nil {
		return true
	}
	v := r.Get(f.Column)
	if v.Kind != models.KindDate {
		return false
	}
	if v.Time.After(now) {
		return false
	}
	return now.Sub(v.Time) <= f.MaxAge
}
