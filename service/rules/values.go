/*
 * @module service/rules/values
 * @description 取值解析与比较工具：类型转换、日期解析、标识键归一化
 * @architecture 分层架构 - 规则工具层
 * @documentReference DESIGN.md
 * @stateFlow 原始文本 -> Coerce -> models.Value
 * @rules 严格解析只接受 ISO-8601 日期；宽松解析供标准化阶段使用
 * @dependencies github.com/spf13/cast
 * @refs service/ingestion, service/cleaning, service/scoring
 */

package rules

import (
	"math"
	"strings"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"

	"github.com/spf13/cast"
)

var isoLayouts = []string{
	models.ISODateLayout,
	models.ISODateTimeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
}

var lenientLayouts = append(append([]string{}, isoLayouts...),
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"02/01/2006 15:04:05",
	"02.01.2006",
)

// ParseISODate 只接受 ISO-8601 格式
func ParseISODate(s string) (time.Time, bool) {
	return parseWith(isoLayouts, s)
}

// ParseDate 宽松解析，接受常见的日/月/年格式
func ParseDate(s string) (time.Time, bool) {
	return parseWith(lenientLayouts, s)
}

func parseWith(layouts []string, s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseBool 解析布尔文本，支持葡语与常见写法
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sim", "s", "yes", "y", "ativo":
		return true, true
	case "nao", "não", "n", "no", "inativo":
		return false, true
	}
	b, err := cast.ToBoolE(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return false, false
	}
	return b, true
}

// Coerce 按声明类型转换单元格文本；空文本为 Null，无法转换时保留原文本并返回 false
func Coerce(columnType, raw string) (models.Value, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return models.Null(), true
	}
	switch columnType {
	case config.TypeInteger, config.TypeNumber:
		f, err := cast.ToFloat64E(text)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return models.String(raw), false
		}
		if columnType == config.TypeInteger && f != math.Trunc(f) {
			return models.String(raw), false
		}
		return models.Number(f), true
	case config.TypeBoolean:
		b, ok := ParseBool(text)
		if !ok {
			return models.String(raw), false
		}
		return models.Bool(b), true
	case config.TypeDate:
		t, ok := ParseISODate(text)
		if !ok {
			return models.String(raw), false
		}
		return models.Date(t), true
	default:
		return models.String(raw), true
	}
}

// MatchesType 判断取值是否符合声明类型，Null 视为符合
func MatchesType(columnType string, v models.Value) bool {
	if v.IsNull() {
		return true
	}
	switch columnType {
	case config.TypeInteger:
		return v.Kind == models.KindNumber && v.Num == math.Trunc(v.Num)
	case config.TypeNumber:
		return v.Kind == models.KindNumber
	case config.TypeBoolean:
		return v.Kind == models.KindBool
	case config.TypeDate:
		return v.Kind == models.KindDate
	default:
		return v.Kind == models.KindString
	}
}

// KeyOf 标识键比较用的归一化文本，Null 返回空串
func KeyOf(v models.Value) string {
	switch v.Kind {
	case models.KindNull:
		return ""
	case models.KindString:
		return strings.ToLower(strings.TrimSpace(v.Str))
	default:
		return v.String()
	}
}

// Round2 四舍五入到分
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Number 取数值，非数值返回 false
func Number(v models.Value) (float64, bool) {
	if v.Kind != models.KindNumber {
		return 0, false
	}
	return v.Num, true
}
