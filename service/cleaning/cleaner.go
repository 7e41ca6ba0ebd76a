/*
 * @module service/cleaning/cleaner
 * @description 规则引擎/清洗器：按外键依赖顺序清洗各数据集，汇总修正日志
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow CleaningOrder -> 逐数据集执行固定阶段 -> 已清洗数据集作为后续引用
 * @rules 被引用数据集缺失或被排除时，引用方整体排除；输入数据集不被修改；Clean(Clean(D)) 不产生修正
 * @dependencies log/slog, dataquality-service/service/config
 * @refs service/cleaning/stages.go, service/cleaning/changelog.go
 */

package cleaning

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
)

// Result 清洗结果
type Result struct {
	Datasets map[string]*models.Dataset
	// Ordinals 清洗后每条记录对应的摄取行序号，与 Datasets 中记录一一对应
	Ordinals map[string][]int
	Log      *ChangeLog
	// Excluded 未参与清洗的数据集及原因
	Excluded map[string]string
}

// ExcludedNames 被排除的数据集名称
func (r *Result) ExcludedNames() []string {
	names := make([]string, 0, len(r.Excluded))
	for name := range r.Excluded {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Cleaner 规则引擎
type Cleaner struct {
	settings *config.Settings
	stages   []Stage
	now      func() time.Time
}

// NewCleaner 创建清洗器，now 为空时使用系统时间
func NewCleaner(settings *config.Settings, now func() time.Time) *Cleaner {
	if now == nil {
		now = time.Now
	}
	return &Cleaner{settings: settings, stages: DefaultStages(), now: now}
}

// Stages 阶段名称，按执行顺序
func (c *Cleaner) Stages() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Clean 清洗全部数据集
func (c *Cleaner) Clean(ctx context.Context, datasets map[string]*models.Dataset) (*Result, error) {
	order, err := c.settings.CleaningOrder()
	if err != nil {
		return nil, &models.ConfigurationError{Problems: []string{err.Error()}}
	}

	result := &Result{
		Datasets: map[string]*models.Dataset{},
		Ordinals: map[string][]int{},
		Log:      NewChangeLog(),
		Excluded: map[string]string{},
	}
	for name := range datasets {
		if _, ok := c.settings.Dataset(name); !ok {
			result.Excluded[name] = "数据集未在配置中声明"
		}
	}

	now := c.now().UTC()
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("清洗被取消: %w", err)
		}
		ds, ok := datasets[name]
		if !ok || ds == nil {
			continue
		}
		schema, _ := c.settings.Dataset(name)

		if reason := c.blocked(schema, result); reason != "" {
			result.Excluded[name] = reason
			slog.Warn("数据集被排除，未进行清洗", "dataset", name, "reason", reason)
			continue
		}

		env := &Env{Now: now, Schema: schema, References: result.Datasets}
		table := newTable(ds)
		before := result.Log.Len()
		for _, stage := range c.stages {
			var changes []Change
			table, changes = stage.Apply(env, table)
			result.Log.Append(changes...)
		}

		result.Datasets[name] = table.Dataset()
		result.Ordinals[name] = table.Ordinals()
		slog.Info("数据集清洗完成",
			"dataset", name,
			"input_rows", ds.Len(),
			"output_rows", len(table.Rows),
			"changes", result.Log.Len()-before)
	}
	return result, nil
}

// blocked 被引用数据集不可用时返回原因
func (c *Cleaner) blocked(schema *config.DatasetSchema, result *Result) string {
	for _, fk := range schema.ForeignKeys {
		if fk.References == schema.Name {
			continue
		}
		if _, ok := result.Datasets[fk.References]; !ok {
			return fmt.Sprintf("被引用数据集 %s 不可用，无法校验外键 %s", fk.References, fk.Column)
		}
	}
	return ""
}
