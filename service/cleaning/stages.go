/*
 * @module service/cleaning/stages
 * @description 清洗阶段：去重、标准化、范围修正、引用校验、派生字段重算、缺失值处理
 * @architecture 分层架构 - 业务服务层 - 规则管道
 * @documentReference DESIGN.md
 * @stateFlow dedup -> normalize -> range -> referential -> derived -> missing
 * @rules 阶段顺序固定；每个阶段是纯函数，返回新表与修正片段；对自身输出重复执行不产生修正
 * @dependencies dataquality-service/service/rules
 * @refs service/cleaning/cleaner.go, service/cleaning/changelog.go
 */

package cleaning

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/service/rules"
)

// Stage 清洗阶段
type Stage interface {
	Name() string
	Apply(env *Env, in *Table) (*Table, []Change)
}

// DefaultStages 固定顺序的清洗阶段
func DefaultStages() []Stage {
	return []Stage{
		DedupStage{},
		NormalizeStage{},
		RangeStage{},
		ReferentialStage{},
		DerivedStage{},
		MissingStage{},
	}
}

// ---------------------------------------------------------------------------

// DedupStage 按标识键去重：时间戳最新者保留，相同时先出现者保留
type DedupStage struct{}

// Name 阶段名称
func (DedupStage) Name() string { return "dedup" }

// Apply 依次按每个标识键去重
func (s DedupStage) Apply(env *Env, in *Table) (*Table, []Change) {
	rows := in.Rows
	var changes []Change
	for _, key := range env.Schema.IdentityKeys {
		var fragment []Change
		rows, fragment = s.byKey(env, rows, key)
		changes = append(changes, fragment...)
	}
	return in.with(rows), changes
}

func (s DedupStage) byKey(env *Env, rows []Row, column string) ([]Row, []Change) {
	winner := map[string]int{}
	losers := map[int]int{}
	for i, r := range rows {
		k := rules.KeyOf(env.normalized(column, r.Rec.Get(column)))
		if k == "" {
			continue
		}
		w, seen := winner[k]
		if !seen {
			winner[k] = i
			continue
		}
		if s.newer(env, r, rows[w]) {
			losers[w] = i
			winner[k] = i
		} else {
			losers[i] = w
		}
	}
	if len(losers) == 0 {
		return rows, nil
	}

	out := make([]Row, 0, len(rows)-len(losers))
	var changes []Change
	for i, r := range rows {
		if _, lost := losers[i]; !lost {
			out = append(out, r)
			continue
		}
		k := rules.KeyOf(env.normalized(column, r.Rec.Get(column)))
		w := rows[winner[k]]
		reason := fmt.Sprintf("标识键 %s 重复，保留第 %d 行", column, w.Ord)
		changes = append(changes, env.removal(r, column, "dedup:"+column, ActionDrop, reason, nil))
	}
	return out, changes
}

// newer 候选记录的时间戳是否严格晚于当前保留记录
func (s DedupStage) newer(env *Env, candidate, current Row) bool {
	col := env.Schema.RecencyColumn
	if col == "" {
		return false
	}
	c := rules.Normalize(config.NormalizeISODate, candidate.Rec.Get(col))
	w := rules.Normalize(config.NormalizeISODate, current.Rec.Get(col))
	if c.Kind != models.KindDate {
		return false
	}
	if w.Kind != models.KindDate {
		return true
	}
	return c.Time.After(w.Time)
}

// ---------------------------------------------------------------------------

// NormalizeStage 字段标准化
type NormalizeStage struct{}

// Name 阶段名称
func (NormalizeStage) Name() string { return "normalize" }

// Apply 逐列应用标准化
func (NormalizeStage) Apply(env *Env, in *Table) (*Table, []Change) {
	out := make([]Row, len(in.Rows))
	var changes []Change
	for i, r := range in.Rows {
		rec := r.Rec
		copied := false
		for _, n := range env.Schema.Normalizations {
			old := rec.Get(n.Column)
			v := rules.Normalize(n.Kind, old)
			if v.Equal(old) {
				continue
			}
			if !copied {
				rec = rec.Clone()
				copied = true
			}
			rec[n.Column] = v
			changes = append(changes, env.change(r, n.Column, "normalize:"+n.Kind, ActionUpdate, old, v, normalizeReason(n.Kind, v)))
		}
		out[i] = Row{Ord: r.Ord, Rec: rec}
	}
	return in.with(out), changes
}

func normalizeReason(kind string, v models.Value) string {
	if v.IsNull() {
		switch kind {
		case config.NormalizeEmail:
			return "邮箱格式非法，置空"
		case config.NormalizeISODate:
			return "日期无法解析，置空"
		case config.NormalizeBool:
			return "布尔值无法解析，置空"
		}
		return "标准化后为空"
	}
	return "标准化: " + kind
}

// ---------------------------------------------------------------------------

// RangeStage 数值范围修正与未来日期修正
type RangeStage struct{}

// Name 阶段名称
func (RangeStage) Name() string { return "range" }

type rangeOutcome struct {
	rule   string
	reject bool
	value  float64
}

// Apply 对每条记录应用范围规则；同一字段多条规则结果不一致时阻断记录
func (RangeStage) Apply(env *Env, in *Table) (*Table, []Change) {
	out := make([]Row, 0, len(in.Rows))
	var changes []Change

	today := models.Date(dayStart(env.Now))
rows:
	for _, r := range in.Rows {
		rec := r.Rec
		var fragment []Change
		copied := false
		set := func(col string, v models.Value) {
			if !copied {
				rec = rec.Clone()
				copied = true
			}
			rec[col] = v
		}

		for _, col := range rangeColumns(env.Schema) {
			old := rec.Get(col)
			n, ok := rules.Number(old)
			if !ok {
				continue
			}
			var outcomes []rangeOutcome
			for _, rr := range env.Schema.RangeRulesFor(col) {
				if o, fired := applyRange(rr, n); fired {
					outcomes = append(outcomes, o)
				}
			}
			if len(outcomes) == 0 {
				continue
			}
			if conflicting(outcomes) {
				err := rangeConflict(env, r, col, outcomes)
				changes = append(changes, env.removal(r, col, "range:"+col, ActionConflict, err.Error(), err))
				continue rows
			}
			o := outcomes[0]
			if o.reject {
				reason := fmt.Sprintf("%s=%s 超出允许范围，记录隔离", col, old.String())
				changes = append(changes, env.removal(r, col, o.rule, ActionQuarantine, reason, nil))
				continue rows
			}
			v := models.Number(o.value)
			set(col, v)
			fragment = append(fragment, env.change(r, col, o.rule, ActionUpdate, old, v, fmt.Sprintf("%s 越界修正", col)))
		}

		for _, col := range env.Schema.NoFutureDates {
			old := rec.Get(col)
			d := rules.Normalize(config.NormalizeISODate, old)
			if d.Kind != models.KindDate || !d.Time.After(env.Now) {
				continue
			}
			set(col, today)
			fragment = append(fragment, env.change(r, col, "no_future_date:"+col, ActionUpdate, old, today, "日期晚于运行时间，修正为当天"))
		}

		changes = append(changes, fragment...)
		out = append(out, Row{Ord: r.Ord, Rec: rec})
	}
	return in.with(out), changes
}

func rangeColumns(schema *config.DatasetSchema) []string {
	var cols []string
	seen := map[string]bool{}
	for _, rr := range schema.RangeRules {
		if !seen[rr.Column] {
			seen[rr.Column] = true
			cols = append(cols, rr.Column)
		}
	}
	return cols
}

func applyRange(rr config.RangeRule, n float64) (rangeOutcome, bool) {
	below := rr.Min != nil && n < *rr.Min
	above := rr.Max != nil && n > *rr.Max
	if !below && !above {
		return rangeOutcome{}, false
	}
	o := rangeOutcome{rule: "range:" + rr.Action + ":" + rr.Column}
	switch rr.Action {
	case config.RangeAbs:
		if n >= 0 {
			return rangeOutcome{}, false
		}
		o.value = math.Abs(n)
	case config.RangeZero:
		o.value = 0
	case config.RangeClamp:
		if below {
			o.value = *rr.Min
		} else {
			o.value = *rr.Max
		}
	default:
		o.reject = true
	}
	return o, true
}

func conflicting(outcomes []rangeOutcome) bool {
	for _, o := range outcomes[1:] {
		if o.reject != outcomes[0].reject || o.value != outcomes[0].value {
			return true
		}
	}
	return false
}

func rangeConflict(env *Env, r Row, col string, outcomes []rangeOutcome) *models.RuleConflictError {
	err := &models.RuleConflictError{Dataset: env.Schema.Name, RecordKey: env.key(r), Field: col}
	for _, o := range outcomes {
		err.Rules = append(err.Rules, o.rule)
		if o.reject {
			err.Values = append(err.Values, "reject")
		} else {
			err.Values = append(err.Values, models.Number(o.value).String())
		}
	}
	return err
}

// ---------------------------------------------------------------------------

// ReferentialStage 跨数据集引用校验，无法解析的记录作为孤儿移除
type ReferentialStage struct{}

// Name 阶段名称
func (ReferentialStage) Name() string { return "referential" }

// Apply 检查每个外键
func (ReferentialStage) Apply(env *Env, in *Table) (*Table, []Change) {
	if len(env.Schema.ForeignKeys) == 0 {
		return in, nil
	}
	indexes := make([]map[string]bool, len(env.Schema.ForeignKeys))
	for i, fk := range env.Schema.ForeignKeys {
		ref := env.References[fk.References]
		if fk.References == env.Schema.Name {
			ref = in.Dataset()
		}
		indexes[i] = activeKeys(ref, fk)
	}

	out := make([]Row, 0, len(in.Rows))
	var changes []Change
rows:
	for _, r := range in.Rows {
		for i, fk := range env.Schema.ForeignKeys {
			v := r.Rec.Get(fk.Column)
			k := rules.KeyOf(v)
			if k == "" || indexes[i][k] {
				continue
			}
			err := &models.ReferentialError{
				Dataset:    env.Schema.Name,
				RecordKey:  env.key(r),
				Column:     fk.Column,
				Value:      v.String(),
				References: fk.References,
			}
			changes = append(changes, env.removal(r, fk.Column, "referential:"+fk.References, ActionOrphan, err.Error(), err))
			continue rows
		}
		out = append(out, r)
	}
	return in.with(out), changes
}

// activeKeys 被引用数据集中可解析的键；启用列显式为 false 的记录不计入
func activeKeys(ref *models.Dataset, fk config.ForeignKey) map[string]bool {
	keys := map[string]bool{}
	if ref == nil {
		return keys
	}
	for _, r := range ref.Records {
		if fk.ActiveColumn != "" {
			if a := r.Get(fk.ActiveColumn); a.Kind == models.KindBool && !a.Bool {
				continue
			}
		}
		if k := rules.KeyOf(r.Get(fk.RefColumn)); k != "" {
			keys[k] = true
		}
	}
	return keys
}

// ---------------------------------------------------------------------------

// DerivedStage 派生字段重算，超出容差时覆盖
type DerivedStage struct{}

// Name 阶段名称
func (DerivedStage) Name() string { return "derived" }

// Apply 重算派生字段；重算结果违反目标字段范围规则时阻断记录
func (DerivedStage) Apply(env *Env, in *Table) (*Table, []Change) {
	if len(env.Schema.DerivedRules) == 0 {
		return in, nil
	}
	out := make([]Row, 0, len(in.Rows))
	var changes []Change
rows:
	for _, r := range in.Rows {
		rec := r.Rec
		var fragment []Change
		for _, d := range env.Schema.DerivedRules {
			if rules.DerivedConsistent(rec, d) {
				continue
			}
			want, ok := rules.DerivedValue(rec, d)
			if !ok {
				continue
			}
			ruleID := "derived:" + d.Target
			for _, rr := range env.Schema.RangeRulesFor(d.Target) {
				if _, fired := applyRange(rr, want); fired {
					err := &models.RuleConflictError{
						Dataset:   env.Schema.Name,
						RecordKey: env.key(r),
						Field:     d.Target,
						Rules:     []string{ruleID, "range:" + rr.Action + ":" + d.Target},
						Values:    []string{models.Number(want).String(), "out_of_range"},
					}
					changes = append(changes, env.removal(r, d.Target, ruleID, ActionConflict, err.Error(), err))
					continue rows
				}
			}
			old := rec.Get(d.Target)
			v := models.Number(want)
			rec = rec.Clone()
			rec[d.Target] = v
			reason := fmt.Sprintf("%s 与 %s 之积不符(容差 %v)，重算覆盖", d.Target, strings.Join(d.Factors, "×"), d.Tolerance)
			fragment = append(fragment, env.change(r, d.Target, ruleID, ActionUpdate, old, v, reason))
		}
		changes = append(changes, fragment...)
		out = append(out, Row{Ord: r.Ord, Rec: rec})
	}
	return in.with(out), changes
}

// ---------------------------------------------------------------------------

// MissingStage 缺失值策略：关键列为空或类型不符则隔离，否则按声明默认值填充
type MissingStage struct{}

// Name 阶段名称
func (MissingStage) Name() string { return "missing" }

var placeholder = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// Apply 处理缺失值
func (MissingStage) Apply(env *Env, in *Table) (*Table, []Change) {
	out := make([]Row, 0, len(in.Rows))
	var changes []Change
rows:
	for _, r := range in.Rows {
		for _, c := range env.Schema.Columns {
			if !c.Critical {
				continue
			}
			v := r.Rec.Get(c.Name)
			if v.IsNull() {
				changes = append(changes, env.removal(r, c.Name, "missing:critical", ActionQuarantine, fmt.Sprintf("关键列 %s 为空，记录隔离", c.Name), nil))
				continue rows
			}
			if !rules.MatchesType(c.Type, v) {
				reason := fmt.Sprintf("关键列 %s 取值 %q 不是 %s，记录隔离", c.Name, v.String(), c.Type)
				changes = append(changes, env.removal(r, c.Name, "missing:critical_type", ActionQuarantine, reason, nil))
				continue rows
			}
		}

		rec := r.Rec
		for _, c := range env.Schema.Columns {
			if c.Default == nil || !rec.Get(c.Name).IsNull() {
				continue
			}
			text := placeholder.ReplaceAllStringFunc(*c.Default, func(m string) string {
				return rec.Get(m[1 : len(m)-1]).String()
			})
			v, _ := rules.Coerce(c.Type, text)
			v = env.normalized(c.Name, v)
			if v.IsNull() {
				continue
			}
			old := rec.Get(c.Name)
			rec = rec.Clone()
			rec[c.Name] = v
			changes = append(changes, env.change(r, c.Name, "missing:default", ActionFill, old, v, "空值按默认值填充"))
		}
		out = append(out, Row{Ord: r.Ord, Rec: rec})
	}
	return in.with(out), changes
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
