package rules

import (
	"testing"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(s string) models.Value {
	t, _ := ParseISODate(s)
	return models.Date(t)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name   string
		typ    string
		raw    string
		want   models.Value
		parsed bool
	}{
		{"空文本", config.TypeInteger, "  ", models.Null(), true},
		{"整数", config.TypeInteger, "42", models.Number(42), true},
		{"整数含小数", config.TypeInteger, "4.5", models.String("4.5"), false},
		{"数值", config.TypeNumber, "-2500.00", models.Number(-2500), true},
		{"非数值", config.TypeNumber, "abc", models.String("abc"), false},
		{"布尔葡语", config.TypeBoolean, "Sim", models.Bool(true), true},
		{"布尔文本", config.TypeBoolean, "false", models.Bool(false), true},
		{"ISO 日期", config.TypeDate, "2024-01-15", date("2024-01-15"), true},
		{"非 ISO 日期保留原文", config.TypeDate, "15/01/2024", models.String("15/01/2024"), false},
		{"字符串", config.TypeString, " x ", models.String(" x "), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Coerce(tt.typ, tt.raw)
			assert.Equal(t, tt.parsed, ok)
			assert.True(t, tt.want.Equal(got), "got %#v", got)
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		kind string
		in   models.Value
		want models.Value
	}{
		{"州代码大写", config.NormalizeUpper, models.String(" sp "), models.String("SP")},
		{"城市首字母大写", config.NormalizeTitle, models.String("são  paulo"), models.String("São Paulo")},
		{"状态首字母大写", config.NormalizeTitle, models.String("em trânsito"), models.String("Em Trânsito")},
		{"电话只保留数字", config.NormalizeDigits, models.String("(11) 98765-4321"), models.String("11987654321")},
		{"电话无数字置空", config.NormalizeDigits, models.String("n/a"), models.Null()},
		{"全角数字不计入电话", config.NormalizeDigits, models.String("(１１) 98765-4321"), models.String("987654321")},
		{"邮箱小写去空白", config.NormalizeEmail, models.String(" EVA@Example.COM "), models.String("eva@example.com")},
		{"非法邮箱置空", config.NormalizeEmail, models.String("felipe@"), models.Null()},
		{"日期转 ISO", config.NormalizeISODate, models.String("15/01/2024"), date("2024-01-15")},
		{"无法解析的日期置空", config.NormalizeISODate, models.String("ontem"), models.Null()},
		{"数值转布尔", config.NormalizeBool, models.Number(1), models.Bool(true)},
		{"空值保持", config.NormalizeUpper, models.Null(), models.Null()},
		{"空白字符串置空", config.NormalizeTrim, models.String("   "), models.Null()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.kind, tt.in)
			assert.True(t, tt.want.Equal(got), "got %#v", got)
			again := Normalize(tt.kind, got)
			assert.True(t, got.Equal(again), "标准化必须幂等")
		})
	}
}

func TestPredicates_Customers(t *testing.T) {
	schema, _ := config.Default().Dataset(config.DatasetCustomers)
	p, err := Compile(schema)
	require.NoError(t, err)

	now := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	good := models.Record{
		"id_cliente":      models.Number(1),
		"nome":            models.String("Ana Souza"),
		"email":           models.String("ana@example.com"),
		"telefone":        models.String("11987654321"),
		"data_nascimento": date("1985-03-10"),
		"cidade":          models.String("São Paulo"),
		"estado":          models.String("SP"),
		"data_cadastro":   date("2024-01-15"),
	}
	assert.True(t, p.Valid(good))
	assert.True(t, p.Consistent(good))
	assert.True(t, p.Plausible(good, now))
	assert.True(t, p.Timely(good, now))

	badEmail := good.Clone()
	badEmail["email"] = models.String("carla.example.com")
	assert.False(t, p.Valid(badEmail))

	nullEmail := good.Clone()
	nullEmail["email"] = models.Null()
	assert.True(t, p.Valid(nullEmail))

	rawPhone := good.Clone()
	rawPhone["telefone"] = models.String("(11) 98765-4321")
	assert.False(t, p.Valid(rawPhone))

	// 五个阿拉伯-印度数字占 10 字节，不能当作 10 位电话
	nonASCII := good.Clone()
	nonASCII["telefone"] = models.String("١٢٣٤٥")
	assert.False(t, p.Valid(nonASCII))

	lower := good.Clone()
	lower["estado"] = models.String("sp")
	assert.False(t, p.Consistent(lower))
	assert.False(t, p.Valid(lower))

	child := good.Clone()
	child["data_nascimento"] = date("2015-01-01")
	assert.False(t, p.Plausible(child, now))

	stale := good.Clone()
	stale["data_cadastro"] = date("2010-01-01")
	assert.False(t, p.Timely(stale, now))
}

func TestDerivedConsistent(t *testing.T) {
	rule := config.DerivedRule{Target: "valor_total", Factors: []string{"quantidade", "valor_unitario"}, Tolerance: 0.01}

	rec := models.Record{
		"quantidade":     models.Number(3),
		"valor_unitario": models.Number(49.9),
		"valor_total":    models.Number(149.7),
	}
	assert.True(t, DerivedConsistent(rec, rule))

	rec["valor_total"] = models.Number(149.71)
	assert.True(t, DerivedConsistent(rec, rule))

	rec["valor_total"] = models.Number(150)
	assert.False(t, DerivedConsistent(rec, rule))

	rec["valor_total"] = models.Null()
	assert.False(t, DerivedConsistent(rec, rule))

	rec["quantidade"] = models.Null()
	assert.True(t, DerivedConsistent(rec, rule))
}

func TestAgeAt(t *testing.T) {
	now := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 40, AgeAt(time.Date(1985, 3, 10, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 39, AgeAt(time.Date(1985, 7, 1, 0, 0, 0, 0, time.UTC), now))
	assert.Equal(t, 40, AgeAt(time.Date(1985, 6, 30, 0, 0, 0, 0, time.UTC), now))
}
