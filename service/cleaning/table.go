/*
 * @module service/cleaning/table
 * @description 清洗阶段之间传递的表结构，记录保留摄取行序号
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow models.Dataset -> newTable -> 各阶段 -> Dataset()
 * @rules 阶段修改记录前必须复制，输入表保持不变
 * @dependencies dataquality-service/service/models
 * @refs service/cleaning/stages.go
 */

package cleaning

import (
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/service/rules"
)

// Row 带行序号的记录
type Row struct {
	Ord int
	Rec models.Record
}

// Table 清洗中的数据表
type Table struct {
	Name    string
	Columns []string
	Rows    []Row
}

func newTable(ds *models.Dataset) *Table {
	t := &Table{Name: ds.Name, Columns: ds.Columns, Rows: make([]Row, len(ds.Records))}
	for i, r := range ds.Records {
		t.Rows[i] = Row{Ord: i + 1, Rec: r.Clone()}
	}
	return t
}

func (t *Table) with(rows []Row) *Table {
	return &Table{Name: t.Name, Columns: t.Columns, Rows: rows}
}

// Dataset 转换为数据集
func (t *Table) Dataset() *models.Dataset {
	ds := models.NewDataset(t.Name, t.Columns)
	ds.Records = make([]models.Record, len(t.Rows))
	for i, r := range t.Rows {
		ds.Records[i] = r.Rec
	}
	return ds
}

// Ordinals 各记录的摄取行序号
func (t *Table) Ordinals() []int {
	out := make([]int, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Ord
	}
	return out
}

// Env 阶段执行环境
type Env struct {
	Now        time.Time
	Schema     *config.DatasetSchema
	References map[string]*models.Dataset
}

func (e *Env) key(r Row) string {
	return models.RecordKey(r.Rec, e.Schema.PrimaryKey(), r.Ord)
}

// change 以当前记录构造修正条目
func (e *Env) change(r Row, field, ruleID string, action Action, from, to models.Value, reason string) Change {
	return Change{
		Dataset:   e.Schema.Name,
		RecordKey: e.key(r),
		Row:       r.Ord,
		Field:     field,
		RuleID:    ruleID,
		Action:    action,
		Old:       from,
		New:       to,
		Reason:    reason,
	}
}

// removal 移除记录的条目，携带完整快照
func (e *Env) removal(r Row, field, ruleID string, action Action, reason string, err error) Change {
	c := e.change(r, field, ruleID, action, r.Rec.Get(field), models.Null(), reason)
	c.Snapshot = r.Rec.Clone()
	c.Err = err
	return c
}

// normalized 按列的标准化方式处理取值
func (e *Env) normalized(column string, v models.Value) models.Value {
	if kind := e.Schema.NormalizationFor(column); kind != "" {
		return rules.Normalize(kind, v)
	}
	return v
}
