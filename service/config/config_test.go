/*
 * @module service/config/config_test
 * @description 配置加载、环境变量覆盖、校验与清洗顺序测试
 * @architecture 单元测试
 * @documentReference DESIGN.md
 * @stateFlow 构造配置 -> 校验 -> 断言问题列表
 * @rules 默认配置必须通过校验；非法配置必须返回 ConfigurationError
 * @dependencies testify
 * @refs settings.go, defaults.go, loader.go, validate.go
 */

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dataquality-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	s := Default()
	require.NoError(t, s.Validate())

	order, err := s.CleaningOrder()
	require.NoError(t, err)
	assert.Equal(t, []string{DatasetCustomers, DatasetProducts, DatasetSales, DatasetShipments}, order)
}

func TestDefault_IndependentCopies(t *testing.T) {
	a := Default()
	b := Default()
	a.Alerting.Thresholds[models.Validity] = 50
	a.Datasets[0].Name = "changed"

	assert.Equal(t, 95.0, b.Alerting.Thresholds[models.Validity])
	assert.Equal(t, DatasetCustomers, b.Datasets[0].Name)
}

func setDefault(s *Settings, dataset, column, value string) {
	d, _ := s.Dataset(dataset)
	c, _ := d.Column(column)
	c.Default = &value
}

func TestValidate_DefaultWithinRange(t *testing.T) {
	s := Default()
	setDefault(s, DatasetProducts, "estoque", "10")
	assert.NoError(t, s.Validate())
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *Settings)
		problem string
	}{
		{
			name:    "缺少维度阈值",
			mutate:  func(s *Settings) { delete(s.Alerting.Thresholds, models.Timeliness) },
			problem: "缺少维度 timeliness 的告警阈值",
		},
		{
			name:    "阈值越界",
			mutate:  func(s *Settings) { s.Alerting.Thresholds[models.Validity] = 120 },
			problem: "维度 validity 告警阈值超出 [0,100]: 120",
		},
		{
			name:    "外键引用不存在的数据集",
			mutate:  func(s *Settings) { s.Datasets[2].ForeignKeys[0].References = "missing" },
			problem: "数据集 vendas 的外键 id_cliente 引用了不存在的数据集 missing",
		},
		{
			name:    "非法列类型",
			mutate:  func(s *Settings) { s.Datasets[0].Columns[0].Type = "uuid" },
			problem: `数据集 clientes 列 id_cliente 类型非法: "uuid"`,
		},
		{
			name:    "缺少 SLA",
			mutate:  func(s *Settings) { delete(s.Alerting.SLA, models.SeverityHigh) },
			problem: "缺少严重级别 high 的 SLA",
		},
		{
			name:    "主键不是关键列",
			mutate:  func(s *Settings) { s.Datasets[1].Columns[0].Critical = false },
			problem: "数据集 produtos 的主键 id_produto 必须为关键列",
		},
		{
			name:    "正则非法",
			mutate:  func(s *Settings) { s.Datasets[0].FormatRules[0].Pattern = "([" },
			problem: "数据集 clientes 列 email 正则非法",
		},
		{
			name:    "次级标识键声明默认值",
			mutate:  func(s *Settings) { setDefault(s, DatasetCustomers, "email", "sem-email@techcommerce.com") },
			problem: "数据集 clientes 列 email 是标识键或外键，不能声明默认值",
		},
		{
			name:    "外键声明默认值",
			mutate:  func(s *Settings) { setDefault(s, DatasetSales, "id_cliente", "1") },
			problem: "数据集 vendas 列 id_cliente 是标识键或外键，不能声明默认值",
		},
		{
			name:    "默认值触发范围规则",
			mutate:  func(s *Settings) { setDefault(s, DatasetProducts, "estoque", "-5") },
			problem: `数据集 produtos 列 estoque 默认值 "-5" 超出范围规则`,
		},
		{
			name:    "范围列默认值使用占位符",
			mutate:  func(s *Settings) { setDefault(s, DatasetProducts, "estoque", "{id_produto}") },
			problem: "数据集 produtos 列 estoque 受范围规则约束，默认值不能使用占位符",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)

			err := s.Validate()
			require.Error(t, err)
			assert.True(t, models.IsConfigurationError(err))

			var ce *models.ConfigurationError
			require.ErrorAs(t, err, &ce)
			found := false
			for _, p := range ce.Problems {
				if strings.HasPrefix(p, tt.problem) {
					found = true
				}
			}
			assert.True(t, found, "problems: %v", ce.Problems)
		})
	}
}

func TestCleaningOrder_Cycle(t *testing.T) {
	s := Default()
	customers, _ := s.Dataset(DatasetCustomers)
	customers.ForeignKeys = append(customers.ForeignKeys, ForeignKey{
		Column: "id_cliente", References: DatasetShipments, RefColumn: "id_entrega",
	})

	_, err := s.CleaningOrder()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "循环依赖")
	assert.Error(t, s.Validate())
}

func TestSeverityFor(t *testing.T) {
	a := Default().Alerting

	tests := []struct {
		deviation float64
		want      models.Severity
		found     bool
	}{
		{0.5, "", false},
		{1, models.SeverityLow, true},
		{2.9, models.SeverityLow, true},
		{3, models.SeverityMedium, true},
		{7, models.SeverityHigh, true},
		{10, models.SeverityCritical, true},
		{15, models.SeverityCritical, true},
		{100, models.SeverityCritical, true},
	}

	for _, tt := range tests {
		sev, ok := a.SeverityFor(tt.deviation)
		assert.Equal(t, tt.found, ok, "deviation %v", tt.deviation)
		assert.Equal(t, tt.want, sev, "deviation %v", tt.deviation)
	}
}

func TestClassify(t *testing.T) {
	sc := Default().Scoring

	assert.Equal(t, "Excellent", sc.Classify(100))
	assert.Equal(t, "Excellent", sc.Classify(98))
	assert.Equal(t, "Good", sc.Classify(97.99))
	assert.Equal(t, "Acceptable", sc.Classify(90))
	assert.Equal(t, "Critical", sc.Classify(85))
	assert.Equal(t, "Critical", sc.Classify(-1))
	assert.Contains(t, sc.Band(85).Recommendation, "URGENTE")
}

func TestLoad_YAMLAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quality.yaml")
	content := `
ingestion:
  data_dir: /srv/raw
schedule: "0 0 * * * *"
alerting:
  aggregate_threshold: 92
  sla:
    critical: 2h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv(EnvThresholdPrefix+"VALIDITY", "97.5")
	t.Setenv(EnvDataDir, "")

	s, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/raw", s.Ingestion.DataDir)
	assert.Equal(t, "0 0 * * * *", s.Schedule)
	assert.Equal(t, 92.0, s.Alerting.AggregateThreshold)
	assert.Equal(t, 97.5, s.Alerting.Thresholds[models.Validity])
	assert.Equal(t, 2*time.Hour, s.Alerting.SLA[models.SeverityCritical])
	assert.Equal(t, 24*time.Hour, s.Alerting.SLA[models.SeverityHigh])
	assert.Len(t, s.Datasets, 4)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, models.IsConfigurationError(err))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("alerting: [1, 2"), 0o644))
	_, err = Load(path)
	assert.True(t, models.IsConfigurationError(err))
}

func TestApplyEnv_InvalidNumber(t *testing.T) {
	env := map[string]string{EnvAggregateThreshold: "abc"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	err := ApplyEnv(Default(), lookup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvAggregateThreshold)
}
