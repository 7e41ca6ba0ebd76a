/*
 * @module service/rules/normalize
 * @description 字段标准化：大小写、去空白、数字提取、邮箱、ISO 日期、布尔
 * @architecture 分层架构 - 规则工具层
 * @documentReference DESIGN.md
 * @stateFlow models.Value -> Normalize(kind) -> models.Value
 * @rules 所有标准化必须幂等：Normalize(Normalize(v)) == Normalize(v)
 * @dependencies golang.org/x/text/cases, golang.org/x/text/language
 * @refs service/cleaning/stages.go
 */

package rules

import (
	"regexp"
	"strings"

	"dataquality-service/service/config"
	"dataquality-service/service/models"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var emailRegexp = regexp.MustCompile(config.EmailPattern)

// ValidEmail 邮箱格式校验
func ValidEmail(s string) bool {
	return emailRegexp.MatchString(s)
}

// Normalize 按标准化方式处理取值；不适用的类型原样返回
func Normalize(kind string, v models.Value) models.Value {
	if v.IsNull() {
		return v
	}
	switch kind {
	case config.NormalizeUpper:
		return mapString(v, func(s string) string { return strings.ToUpper(collapse(s)) })
	case config.NormalizeLower:
		return mapString(v, func(s string) string { return strings.ToLower(collapse(s)) })
	case config.NormalizeTitle:
		return mapString(v, func(s string) string {
			return cases.Title(language.BrazilianPortuguese).String(collapse(s))
		})
	case config.NormalizeTrim:
		return mapString(v, collapse)
	case config.NormalizeDigits:
		return digitsOnly(v)
	case config.NormalizeEmail:
		return email(v)
	case config.NormalizeISODate:
		return isoDate(v)
	case config.NormalizeBool:
		return boolean(v)
	}
	return v
}

func mapString(v models.Value, fn func(string) string) models.Value {
	if v.Kind != models.KindString {
		return v
	}
	out := fn(v.Str)
	if out == "" {
		return models.Null()
	}
	return models.String(out)
}

// collapse 去除首尾空白并合并连续空白
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func digitsOnly(v models.Value) models.Value {
	var b strings.Builder
	for _, r := range v.String() {
		if isDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return models.Null()
	}
	return models.String(b.String())
}

func email(v models.Value) models.Value {
	if v.Kind != models.KindString {
		return models.Null()
	}
	s := strings.ToLower(strings.TrimSpace(v.Str))
	if !ValidEmail(s) {
		return models.Null()
	}
	return models.String(s)
}

func isoDate(v models.Value) models.Value {
	switch v.Kind {
	case models.KindDate:
		return v
	case models.KindString:
		if t, ok := ParseDate(v.Str); ok {
			return models.Date(t)
		}
	}
	return models.Null()
}

func boolean(v models.Value) models.Value {
	switch v.Kind {
	case models.KindBool:
		return v
	case models.KindNumber:
		if v.Num == 1 {
			return models.Bool(true)
		}
		if v.Num == 0 {
			return models.Bool(false)
		}
	case models.KindString:
		if b, ok := ParseBool(v.Str); ok {
			return models.Bool(b)
		}
	}
	return models.Null()
}
