/*
 * @module service/models/errors
 * @description 质量引擎错误分类：结构错误、引用错误、规则冲突、配置错误
 * @architecture 数据模型层 - 错误定义
 * @documentReference DESIGN.md
 * @stateFlow 各组件构造错误 -> 调用方通过 errors.As 判别并决定恢复策略
 * @rules 结构错误排除数据集；引用错误丢弃记录；规则冲突阻断记录；配置错误终止本次运行
 * @dependencies fmt, strings
 * @refs service/ingestion, service/cleaning, service/config
 */

package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRunInProgress 已有运行未结束
var ErrRunInProgress = errors.New("质量流水线正在运行")

// SchemaError 数据集结构与声明不符，该数据集被排除，其他数据集继续
type SchemaError struct {
	Dataset  string
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("数据集 %s 结构校验失败: %s", e.Dataset, strings.Join(e.Problems, "; "))
}

// ReferentialError 外键无法解析，记录作为孤儿被丢弃
type ReferentialError struct {
	Dataset    string
	RecordKey  string
	Column     string
	Value      string
	References string
}

func (e *ReferentialError) Error() string {
	return fmt.Sprintf("数据集 %s 记录 %s 的 %s=%q 在 %s 中不存在或未启用",
		e.Dataset, e.RecordKey, e.Column, e.Value, e.References)
}

// RuleConflictError 两条修正规则对同一字段给出矛盾结果，记录被阻断
type RuleConflictError struct {
	Dataset   string
	RecordKey string
	Field     string
	Rules     []string
	Values    []string
}

func (e *RuleConflictError) Error() string {
	return fmt.Sprintf("数据集 %s 记录 %s 字段 %s 规则冲突: %s -> %s",
		e.Dataset, e.RecordKey, e.Field, strings.Join(e.Rules, ","), strings.Join(e.Values, ","))
}

// ConfigurationError 配置缺失或非法，运行在处理任何数据集之前终止
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return "配置无效: " + strings.Join(e.Problems, "; ")
}

// IsConfigurationError 判断是否为配置错误
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsSchemaError 判断是否为结构错误
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
