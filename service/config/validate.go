/*
 * @module service/config/validate
 * @description 配置校验与清洗顺序推导
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow Validate -> CleaningOrder
 * @rules 任一问题即返回 ConfigurationError，问题列表完整列出而非遇错即停
 * @dependencies regexp, sort, github.com/spf13/cast, dataquality-service/service/models
 * @refs service/config/loader.go, service/cleaning
 */

package config

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"dataquality-service/service/models"

	"github.com/spf13/cast"
)

var validTypes = map[string]bool{
	TypeString: true, TypeInteger: true, TypeNumber: true, TypeBoolean: true, TypeDate: true,
}

var validNormalizations = map[string]bool{
	NormalizeUpper: true, NormalizeLower: true, NormalizeTitle: true, NormalizeTrim: true,
	NormalizeDigits: true, NormalizeEmail: true, NormalizeISODate: true, NormalizeBool: true,
}

var validRangeActions = map[string]bool{
	RangeAbs: true, RangeReject: true, RangeClamp: true, RangeZero: true,
}

var validConsistency = map[string]bool{
	ConsistencyUppercase: true, ConsistencyISODate: true, ConsistencyDateOrder: true,
}

var validPlausibility = map[string]bool{
	PlausibilityRange: true, PlausibilityAge: true, PlausibilityLength: true,
}

// Validate 校验配置完整性，返回 *models.ConfigurationError
func (s *Settings) Validate() error {
	v := &validator{}

	if len(s.Datasets) == 0 {
		v.add("未声明任何数据集")
	}
	seen := map[string]bool{}
	for i := range s.Datasets {
		d := &s.Datasets[i]
		if d.Name == "" {
			v.add("第 %d 个数据集缺少名称", i+1)
			continue
		}
		if seen[d.Name] {
			v.add("数据集名称重复: %s", d.Name)
		}
		seen[d.Name] = true
		v.dataset(s, d)
	}
	if _, err := s.CleaningOrder(); err != nil {
		v.add("%v", err)
	}

	v.scoring(&s.Scoring)
	v.alerting(&s.Alerting)

	if len(v.problems) > 0 {
		return &models.ConfigurationError{Problems: v.problems}
	}
	return nil
}

type validator struct {
	problems []string
}

func (v *validator) add(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) dataset(s *Settings, d *DatasetSchema) {
	if d.File == "" {
		v.add("数据集 %s 缺少文件名", d.Name)
	}
	if len(d.Columns) == 0 {
		v.add("数据集 %s 未声明列", d.Name)
	}
	cols := map[string]bool{}
	for _, c := range d.Columns {
		if cols[c.Name] {
			v.add("数据集 %s 列重复: %s", d.Name, c.Name)
		}
		cols[c.Name] = true
		if !validTypes[c.Type] {
			v.add("数据集 %s 列 %s 类型非法: %q", d.Name, c.Name, c.Type)
		}
	}

	column := func(name, usage string) *ColumnSpec {
		c, ok := d.Column(name)
		if !ok {
			v.add("数据集 %s 的%s引用了未声明的列 %q", d.Name, usage, name)
			return nil
		}
		return c
	}
	numeric := func(c *ColumnSpec, usage string) {
		if c != nil && c.Type != TypeNumber && c.Type != TypeInteger {
			v.add("数据集 %s 的%s要求数值列，%s 为 %s", d.Name, usage, c.Name, c.Type)
		}
	}

	if len(d.IdentityKeys) == 0 {
		v.add("数据集 %s 未声明标识键", d.Name)
	}
	for i, k := range d.IdentityKeys {
		c := column(k, "标识键")
		if i == 0 && c != nil && !c.Critical {
			v.add("数据集 %s 的主键 %s 必须为关键列", d.Name, k)
		}
	}
	if d.RecencyColumn != "" {
		column(d.RecencyColumn, "时间戳列")
	}

	for _, fk := range d.ForeignKeys {
		column(fk.Column, "外键")
		ref, ok := s.Dataset(fk.References)
		if !ok {
			v.add("数据集 %s 的外键 %s 引用了不存在的数据集 %s", d.Name, fk.Column, fk.References)
			continue
		}
		if _, ok := ref.Column(fk.RefColumn); !ok {
			v.add("数据集 %s 的外键 %s 引用了 %s 中不存在的列 %s", d.Name, fk.Column, ref.Name, fk.RefColumn)
		}
		if fk.ActiveColumn != "" {
			if _, ok := ref.Column(fk.ActiveColumn); !ok {
				v.add("数据集 %s 的外键 %s 引用了 %s 中不存在的启用列 %s", d.Name, fk.Column, ref.Name, fk.ActiveColumn)
			}
		}
	}

	for _, n := range d.Normalizations {
		column(n.Column, "标准化规则")
		if !validNormalizations[n.Kind] {
			v.add("数据集 %s 列 %s 标准化方式非法: %q", d.Name, n.Column, n.Kind)
		}
	}

	for _, r := range d.RangeRules {
		numeric(column(r.Column, "范围规则"), "范围规则")
		if !validRangeActions[r.Action] {
			v.add("数据集 %s 列 %s 越界处理方式非法: %q", d.Name, r.Column, r.Action)
		}
		if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
			v.add("数据集 %s 列 %s 范围下限大于上限", d.Name, r.Column)
		}
	}

	for _, col := range d.NoFutureDates {
		if c := column(col, "未来日期规则"); c != nil && c.Type != TypeDate {
			v.add("数据集 %s 列 %s 不是日期列", d.Name, col)
		}
	}

	for _, r := range d.DerivedRules {
		numeric(column(r.Target, "派生规则"), "派生规则")
		if len(r.Factors) == 0 {
			v.add("数据集 %s 派生字段 %s 缺少因子", d.Name, r.Target)
		}
		for _, f := range r.Factors {
			c := column(f, "派生规则")
			numeric(c, "派生规则")
			if c != nil && !c.Critical {
				v.add("数据集 %s 派生字段 %s 的因子 %s 必须为关键列", d.Name, r.Target, f)
			}
		}
		if r.Tolerance < 0 {
			v.add("数据集 %s 派生字段 %s 容差为负", d.Name, r.Target)
		}
	}

	for _, f := range d.FormatRules {
		column(f.Column, "有效性规则")
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				v.add("数据集 %s 列 %s 正则非法: %v", d.Name, f.Column, err)
			}
		}
		if f.MinDigits > 0 && f.MaxDigits > 0 && f.MinDigits > f.MaxDigits {
			v.add("数据集 %s 列 %s 位数下限大于上限", d.Name, f.Column)
		}
	}

	for _, c := range d.ConsistencyRules {
		if !validConsistency[c.Kind] {
			v.add("数据集 %s 一致性规则类型非法: %q", d.Name, c.Kind)
			continue
		}
		column(c.Column, "一致性规则")
		if c.Kind == ConsistencyDateOrder {
			column(c.Other, "一致性规则")
		}
	}

	for _, p := range d.PlausibilityRules {
		if !validPlausibility[p.Kind] {
			v.add("数据集 %s 合理性规则类型非法: %q", d.Name, p.Kind)
			continue
		}
		column(p.Column, "合理性规则")
		if p.Min > p.Max {
			v.add("数据集 %s 列 %s 合理性下限大于上限", d.Name, p.Column)
		}
	}

	v.defaults(d)

	if d.Freshness != nil {
		column(d.Freshness.Column, "时效性规则")
		if d.Freshness.MaxAge <= 0 {
			v.add("数据集 %s 时效性窗口必须为正", d.Name)
		}
	}
}

// defaults 默认值在去重、引用和范围修正之后填充，不能再破坏这些阶段保证的性质
func (v *validator) defaults(d *DatasetSchema) {
	keys := map[string]bool{}
	for _, k := range d.IdentityKeys {
		keys[k] = true
	}
	for _, fk := range d.ForeignKeys {
		keys[fk.Column] = true
	}

	for _, c := range d.Columns {
		if c.Default == nil {
			continue
		}
		if keys[c.Name] {
			v.add("数据集 %s 列 %s 是标识键或外键，不能声明默认值", d.Name, c.Name)
			continue
		}
		ranges := d.RangeRulesFor(c.Name)
		if len(ranges) == 0 {
			continue
		}
		if strings.Contains(*c.Default, "{") {
			v.add("数据集 %s 列 %s 受范围规则约束，默认值不能使用占位符", d.Name, c.Name)
			continue
		}
		n, err := cast.ToFloat64E(strings.TrimSpace(*c.Default))
		if err != nil {
			v.add("数据集 %s 列 %s 默认值 %q 不是数值", d.Name, c.Name, *c.Default)
			continue
		}
		for _, r := range ranges {
			if (r.Min != nil && n < *r.Min) || (r.Max != nil && n > *r.Max) {
				v.add("数据集 %s 列 %s 默认值 %q 超出范围规则", d.Name, c.Name, *c.Default)
				break
			}
		}
	}
}

func (v *validator) scoring(sc *ScoringConfig) {
	total := 0.0
	for _, d := range models.AllDimensions {
		w := sc.Weight(d)
		if w < 0 {
			v.add("维度 %s 权重为负", d)
		}
		total += w
	}
	if total <= 0 {
		v.add("维度权重之和必须为正")
	}
	if len(sc.Classification) == 0 {
		v.add("未配置综合评分分级")
	}
}

func (v *validator) alerting(a *AlertingConfig) {
	for _, d := range models.AllDimensions {
		t, ok := a.Thresholds[d]
		if !ok {
			v.add("缺少维度 %s 的告警阈值", d)
			continue
		}
		if t < 0 || t > 100 {
			v.add("维度 %s 告警阈值超出 [0,100]: %v", d, t)
		}
	}
	if a.AggregateThreshold < 0 || a.AggregateThreshold > 100 {
		v.add("综合告警阈值超出 [0,100]: %v", a.AggregateThreshold)
	}
	for rule, limit := range a.RuleLimits {
		if limit < 0 || limit > 100 {
			v.add("规则 %s 违规上限超出 [0,100]: %v", rule, limit)
		}
	}

	if len(a.SeverityBands) == 0 {
		v.add("未配置严重级别区间")
	}
	for _, b := range a.SeverityBands {
		if b.Severity.Rank() < 0 {
			v.add("严重级别非法: %q", b.Severity)
		}
		if b.Min < 0 || b.Max < b.Min {
			v.add("严重级别 %s 区间非法: [%v,%v)", b.Severity, b.Min, b.Max)
		}
	}
	for _, sev := range models.AllSeverities {
		if a.SLA[sev] <= 0 {
			v.add("缺少严重级别 %s 的 SLA", sev)
		}
	}
}

// CleaningOrder 按外键依赖给出清洗顺序：被引用数据集在前，同层按名称排序
func (s *Settings) CleaningOrder() ([]string, error) {
	deps := map[string]map[string]bool{}
	for _, d := range s.Datasets {
		deps[d.Name] = map[string]bool{}
		for _, fk := range d.ForeignKeys {
			if fk.References != d.Name {
				deps[d.Name][fk.References] = true
			}
		}
	}

	order := make([]string, 0, len(deps))
	done := map[string]bool{}
	for len(order) < len(deps) {
		var ready []string
		for name, ds := range deps {
			if done[name] {
				continue
			}
			blocked := false
			for ref := range ds {
				if _, known := deps[ref]; known && !done[ref] {
					blocked = true
					break
				}
			}
			if !blocked {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			var cyclic []string
			for name := range deps {
				if !done[name] {
					cyclic = append(cyclic, name)
				}
			}
			sort.Strings(cyclic)
			return nil, fmt.Errorf("外键存在循环依赖: %v", cyclic)
		}
		sort.Strings(ready)
		for _, name := range ready {
			done[name] = true
		}
		order = append(order, ready...)
	}
	return order, nil
}
