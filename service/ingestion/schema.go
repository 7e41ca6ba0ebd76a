/*
 * @module service/ingestion/schema
 * @description 结构校验器：表头列与声明对比，强制列全空检查，类型不符与空值统计
 * @architecture 分层架构 - 数据接入层
 * @documentReference DESIGN.md
 * @stateFlow 表头 -> CheckHeader；类型化数据集 -> CheckRecords -> Profile
 * @rules 缺列或强制列全空为结构错误；多余列仅告警
 * @dependencies dataquality-service/service/config
 * @refs service/ingestion/pipeline.go
 */

package ingestion

import (
	"fmt"
	"math"
	"strings"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
)

// SchemaValidator 结构校验器，无状态
type SchemaValidator struct{}

// NewSchemaValidator 创建结构校验器
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// HeaderCheck 表头校验结果
type HeaderCheck struct {
	// Index 声明列在文件中的位置
	Index    map[string]int
	Problems []string
	Warnings []string
}

// CheckHeader 对比表头与声明列
func (v *SchemaValidator) CheckHeader(schema *config.DatasetSchema, header []string) HeaderCheck {
	check := HeaderCheck{Index: map[string]int{}}
	seen := map[string]int{}
	for i, h := range header {
		name := strings.TrimSpace(h)
		if _, dup := seen[name]; dup {
			check.Warnings = append(check.Warnings, fmt.Sprintf("重复列 %s，仅使用第一列", name))
			continue
		}
		seen[name] = i
	}

	for _, c := range schema.Columns {
		idx, ok := seen[c.Name]
		if !ok {
			check.Problems = append(check.Problems, fmt.Sprintf("缺少声明列 %s", c.Name))
			continue
		}
		check.Index[c.Name] = idx
	}
	for _, h := range header {
		name := strings.TrimSpace(h)
		if _, declared := schema.Column(name); !declared && name != "" {
			check.Warnings = append(check.Warnings, fmt.Sprintf("忽略未声明列 %s", name))
		}
	}
	return check
}

// CheckRecords 强制列(关键且不可空)在非空数据集中不得全部为空
func (v *SchemaValidator) CheckRecords(schema *config.DatasetSchema, ds *models.Dataset) []string {
	if ds.Len() == 0 {
		return nil
	}
	var problems []string
	for _, c := range schema.Columns {
		if !c.Critical || c.Nullable {
			continue
		}
		allNull := true
		for _, r := range ds.Records {
			if !r.Get(c.Name).IsNull() {
				allNull = false
				break
			}
		}
		if allNull {
			problems = append(problems, fmt.Sprintf("强制列 %s 全部为空", c.Name))
		}
	}
	return problems
}

// Profile 各列空值百分比，保留两位小数
func (v *SchemaValidator) Profile(ds *models.Dataset) map[string]float64 {
	out := make(map[string]float64, len(ds.Columns))
	for _, c := range ds.Columns {
		if ds.Len() == 0 {
			out[c] = 0
			continue
		}
		nulls := 0
		for _, r := range ds.Records {
			if r.Get(c).IsNull() {
				nulls++
			}
		}
		out[c] = math.Round(float64(nulls)/float64(ds.Len())*10000) / 100
	}
	return out
}
