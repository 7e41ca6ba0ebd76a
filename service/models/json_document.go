/*
 * @module service/models/json_document
 * @description 审计明细与质量报告正文使用的 JSON 文档列类型
 * @architecture 数据模型层
 * @documentReference DESIGN.md
 * @stateFlow 结构体 -> ToJSONB -> 数据库 jsonb/text 列 -> Decode -> 结构体
 * @rules PostgreSQL 使用 jsonb 列，SQLite 以文本保存；nil 文档写入 NULL
 * @dependencies database/sql/driver, encoding/json
 * @refs service/models/quality_records.go
 */

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB 以 JSON 保存的半结构化文档
type JSONB map[string]interface{}

// Scan 从数据库读取，驱动可能返回 []byte 或 string
func (j *JSONB) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*j = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("JSON 文档列类型不支持: %T", value)
	}
	if len(raw) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(raw, j)
}

// Value 写入数据库
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Decode 将文档还原为目标结构
func (j JSONB) Decode(out interface{}) error {
	b, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// ToJSONB 按 json 标签把结构体转换为文档
func ToJSONB(v interface{}) (JSONB, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc JSONB
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("不是 JSON 对象: %w", err)
	}
	return doc, nil
}
