/*
 * @module service/cleaning/changelog
 * @description 修正日志：记录每一次修正动作，支持按记录追溯与修正前镜像重建
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 各清洗阶段产生 Change 片段 -> Cleaner 按顺序追加 -> 报告/审计输出
 * @rules 只追加，序号单调递增；删除类动作必须携带完整记录快照
 * @dependencies dataquality-service/service/models
 * @refs service/cleaning/stages.go, service/cleaning/cleaner.go
 */

package cleaning

import (
	"errors"

	"dataquality-service/service/models"
)

// Action 修正动作
type Action string

const (
	ActionUpdate     Action = "update"
	ActionFill       Action = "fill"
	ActionDrop       Action = "drop"
	ActionOrphan     Action = "orphan"
	ActionQuarantine Action = "quarantine"
	ActionConflict   Action = "conflict"
)

// Removes 该动作是否将记录移出数据集
func (a Action) Removes() bool {
	return a == ActionDrop || a == ActionOrphan || a == ActionQuarantine || a == ActionConflict
}

// Change 单条修正记录
type Change struct {
	Seq       int64
	Dataset   string
	RecordKey string
	// Row 记录在摄取数据中的行序号(从 1 开始)，用于区分主键重复的记录
	Row      int
	Field    string
	RuleID   string
	Action   Action
	Old      models.Value
	New      models.Value
	Reason   string
	Snapshot models.Record
	Err      error
}

// Entry 修正记录的导出形式，取值转换为普通 JSON 值
type Entry struct {
	Seq       int64                  `json:"seq"`
	Dataset   string                 `json:"dataset"`
	RecordKey string                 `json:"record_key"`
	Row       int                    `json:"row"`
	Field     string                 `json:"field,omitempty"`
	RuleID    string                 `json:"rule_id"`
	Action    Action                 `json:"action"`
	OldValue  interface{}            `json:"old_value"`
	NewValue  interface{}            `json:"new_value"`
	Reason    string                 `json:"reason"`
	Snapshot  map[string]interface{} `json:"snapshot,omitempty"`
}

// Entry 转换为导出形式
func (c Change) Entry() Entry {
	e := Entry{
		Seq:       c.Seq,
		Dataset:   c.Dataset,
		RecordKey: c.RecordKey,
		Row:       c.Row,
		Field:     c.Field,
		RuleID:    c.RuleID,
		Action:    c.Action,
		OldValue:  c.Old.Interface(),
		NewValue:  c.New.Interface(),
		Reason:    c.Reason,
	}
	if c.Snapshot != nil {
		e.Snapshot = c.Snapshot.Snapshot()
	}
	return e
}

// ChangeLog 修正日志
type ChangeLog struct {
	entries []Change
}

// NewChangeLog 创建空日志
func NewChangeLog() *ChangeLog {
	return &ChangeLog{}
}

// Append 追加修正片段并分配序号
func (l *ChangeLog) Append(changes ...Change) {
	for _, c := range changes {
		c.Seq = int64(len(l.entries) + 1)
		l.entries = append(l.entries, c)
	}
}

// Len 条目数
func (l *ChangeLog) Len() int {
	return len(l.entries)
}

// Entries 全部条目副本
func (l *ChangeLog) Entries() []Change {
	out := make([]Change, len(l.entries))
	copy(out, l.entries)
	return out
}

// Export 按序号导出全部条目
func (l *ChangeLog) Export() []Entry {
	out := make([]Entry, 0, len(l.entries))
	for _, c := range l.entries {
		out = append(out, c.Entry())
	}
	return out
}

func (l *ChangeLog) filter(fn func(c *Change) bool) []Change {
	var out []Change
	for i := range l.entries {
		if fn(&l.entries[i]) {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// ForDataset 某数据集的全部条目
func (l *ChangeLog) ForDataset(dataset string) []Change {
	return l.filter(func(c *Change) bool { return c.Dataset == dataset })
}

// History 按记录标识查询修正历史
func (l *ChangeLog) History(dataset, recordKey string) []Change {
	return l.filter(func(c *Change) bool { return c.Dataset == dataset && c.RecordKey == recordKey })
}

// ByAction 按动作筛选
func (l *ChangeLog) ByAction(action Action) []Change {
	return l.filter(func(c *Change) bool { return c.Action == action })
}

// Removed 被移出数据集的记录条目
func (l *ChangeLog) Removed(dataset string) []Change {
	return l.filter(func(c *Change) bool { return c.Dataset == dataset && c.Action.Removes() })
}

// Orphans 孤儿记录引用错误
func (l *ChangeLog) Orphans() []*models.ReferentialError {
	var out []*models.ReferentialError
	for _, c := range l.ByAction(ActionOrphan) {
		var re *models.ReferentialError
		if errors.As(c.Err, &re) {
			out = append(out, re)
		}
	}
	return out
}

// Conflicts 规则冲突错误
func (l *ChangeLog) Conflicts() []*models.RuleConflictError {
	var out []*models.RuleConflictError
	for _, c := range l.ByAction(ActionConflict) {
		var ce *models.RuleConflictError
		if errors.As(c.Err, &ce) {
			out = append(out, ce)
		}
	}
	return out
}

// CountByRule 各规则触发次数
func (l *ChangeLog) CountByRule() map[string]int {
	out := map[string]int{}
	for _, c := range l.entries {
		out[c.RuleID]++
	}
	return out
}

// Reconstruct 由清洗后的记录(被移除时传 nil)回放日志，得到摄取时的记录
func (l *ChangeLog) Reconstruct(dataset string, row int, current models.Record) models.Record {
	var rec models.Record
	if current != nil {
		rec = current.Clone()
	}
	for i := len(l.entries) - 1; i >= 0; i-- {
		c := &l.entries[i]
		if c.Dataset != dataset || c.Row != row {
			continue
		}
		if c.Action.Removes() {
			if c.Snapshot != nil {
				rec = c.Snapshot.Clone()
			}
			continue
		}
		if rec != nil && c.Field != "" {
			rec[c.Field] = c.Old
		}
	}
	return rec
}
