/*
 * @module service/config/defaults
 * @description 默认配置：电商场景下的客户、商品、销售、物流四个数据集
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow Default() -> Load() 覆盖 -> Validate()
 * @rules 默认值只作为起点，阈值与规则均可被配置文件覆盖
 * @dependencies time, dataquality-service/service/models
 * @refs service/config/loader.go
 */

package config

import (
	"time"

	"dataquality-service/service/models"
)

const (
	DatasetCustomers = "clientes"
	DatasetProducts  = "produtos"
	DatasetSales     = "vendas"
	DatasetShipments = "logistica"
)

// EmailPattern 邮箱格式
const EmailPattern = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`

// BrazilianStates 巴西州代码
var BrazilianStates = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA",
	"MT", "MS", "MG", "PA", "PB", "PR", "PE", "PI", "RJ", "RN",
	"RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

const day = 24 * time.Hour

func ptrFloat(v float64) *float64 { return &v }

func ptrString(v string) *string { return &v }

// Default 返回默认配置，每次调用返回独立副本
func Default() *Settings {
	return &Settings{
		Ingestion: IngestionConfig{
			DataDir:   "data/raw",
			Delimiter: ",",
			Encoding:  "utf-8",
		},
		Datasets: []DatasetSchema{
			defaultCustomers(),
			defaultProducts(),
			defaultSales(),
			defaultShipments(),
		},
		Scoring: ScoringConfig{
			Weights: map[models.Dimension]float64{
				models.Completeness: 1,
				models.Uniqueness:   1,
				models.Validity:     1,
				models.Consistency:  1,
				models.Accuracy:     1,
				models.Timeliness:   1,
			},
			Classification: []ClassificationBand{
				{Label: "Excellent", Min: 98, Recommendation: "Excelente qualidade! Manter boas práticas."},
				{Label: "Good", Min: 95, Recommendation: "Qualidade boa. Manter monitoramento."},
				{Label: "Acceptable", Min: 90, Recommendation: "ATENÇÃO: Qualidade requer melhoria."},
				{Label: "Critical", Min: 0, Recommendation: "URGENTE: Qualidade abaixo do aceitável. Revisar processos."},
			},
		},
		Alerting: AlertingConfig{
			Thresholds: map[models.Dimension]float64{
				models.Completeness: 95,
				models.Uniqueness:   99,
				models.Validity:     95,
				models.Consistency:  95,
				models.Accuracy:     95,
				models.Timeliness:   90,
			},
			AggregateThreshold: 90,
			RuleLimits: map[string]float64{
				RuleOrphanRate:     1,
				RuleQuarantineRate: 1,
				RuleConflict:       0,
				RuleSchemaError:    0,
			},
			SeverityBands: []SeverityBand{
				{Severity: models.SeverityLow, Min: 1, Max: 3},
				{Severity: models.SeverityMedium, Min: 3, Max: 5},
				{Severity: models.SeverityHigh, Min: 5, Max: 10},
				{Severity: models.SeverityCritical, Min: 10, Max: 100},
			},
			SLA: map[models.Severity]time.Duration{
				models.SeverityCritical: 4 * time.Hour,
				models.SeverityHigh:     24 * time.Hour,
				models.SeverityMedium:   48 * time.Hour,
				models.SeverityLow:      7 * day,
			},
			Recipients: map[models.Severity][]string{
				models.SeverityCritical: {"CDO", "Data Owner", "Data Steward"},
				models.SeverityHigh:     {"Data Owner", "Data Steward"},
				models.SeverityMedium:   {"Data Steward"},
				models.SeverityLow:      {"Data Custodian"},
			},
		},
	}
}

func defaultCustomers() DatasetSchema {
	return DatasetSchema{
		Name: DatasetCustomers,
		File: "clientes.csv",
		Columns: []ColumnSpec{
			{Name: "id_cliente", Type: TypeInteger, Critical: true},
			{Name: "nome", Type: TypeString, Default: ptrString("Cliente {id_cliente}")},
			{Name: "email", Type: TypeString, Nullable: true},
			{Name: "telefone", Type: TypeString, Nullable: true},
			{Name: "data_nascimento", Type: TypeDate, Nullable: true},
			{Name: "cidade", Type: TypeString, Nullable: true},
			{Name: "estado", Type: TypeString, Nullable: true},
			{Name: "data_cadastro", Type: TypeDate, Critical: true},
		},
		IdentityKeys:  []string{"id_cliente", "email"},
		RecencyColumn: "data_cadastro",
		Normalizations: []Normalization{
			{Column: "nome", Kind: NormalizeTrim},
			{Column: "email", Kind: NormalizeEmail},
			{Column: "telefone", Kind: NormalizeDigits},
			{Column: "cidade", Kind: NormalizeTitle},
			{Column: "estado", Kind: NormalizeUpper},
			{Column: "data_nascimento", Kind: NormalizeISODate},
			{Column: "data_cadastro", Kind: NormalizeISODate},
		},
		NoFutureDates: []string{"data_cadastro"},
		FormatRules: []FormatRule{
			{Column: "email", Pattern: EmailPattern},
			{Column: "telefone", MinDigits: 10, MaxDigits: 11},
			{Column: "estado", Enum: BrazilianStates},
		},
		ConsistencyRules: []ConsistencyRule{
			{Kind: ConsistencyUppercase, Column: "estado"},
			{Kind: ConsistencyISODate, Column: "data_cadastro"},
			{Kind: ConsistencyISODate, Column: "data_nascimento"},
		},
		PlausibilityRules: []PlausibilityRule{
			{Kind: PlausibilityAge, Column: "data_nascimento", Min: 18, Max: 120},
			{Kind: PlausibilityLength, Column: "nome", Min: 3, Max: 100},
		},
		Freshness: &Freshness{Column: "data_cadastro", MaxAge: 10 * 365 * day},
	}
}

func defaultProducts() DatasetSchema {
	return DatasetSchema{
		Name: DatasetProducts,
		File: "produtos.csv",
		Columns: []ColumnSpec{
			{Name: "id_produto", Type: TypeInteger, Critical: true},
			{Name: "nome_produto", Type: TypeString, Critical: true},
			{Name: "categoria", Type: TypeString, Default: ptrString("Sem Categoria")},
			{Name: "preco", Type: TypeNumber, Critical: true},
			{Name: "estoque", Type: TypeInteger, Default: ptrString("0")},
			{Name: "data_criacao", Type: TypeDate, Nullable: true},
			{Name: "ativo", Type: TypeBoolean, Nullable: true},
		},
		IdentityKeys:  []string{"id_produto"},
		RecencyColumn: "data_criacao",
		Normalizations: []Normalization{
			{Column: "nome_produto", Kind: NormalizeTrim},
			{Column: "categoria", Kind: NormalizeTitle},
			{Column: "ativo", Kind: NormalizeBool},
			{Column: "data_criacao", Kind: NormalizeISODate},
		},
		RangeRules: []RangeRule{
			{Column: "preco", Min: ptrFloat(0), Action: RangeAbs},
			{Column: "estoque", Min: ptrFloat(0), Action: RangeZero},
		},
		FormatRules: []FormatRule{
			{Column: "preco", Min: ptrFloat(0.01), Max: ptrFloat(1000000)},
			{Column: "estoque", Min: ptrFloat(0), Max: ptrFloat(100000)},
			{Column: "categoria", Enum: []string{
				"Eletrônicos", "Informática", "Livros", "Roupas",
				"Casa", "Esportes", "Beleza", "Alimentos",
			}},
		},
		ConsistencyRules: []ConsistencyRule{
			{Kind: ConsistencyISODate, Column: "data_criacao"},
		},
		PlausibilityRules: []PlausibilityRule{
			{Kind: PlausibilityRange, Column: "preco", Min: 0.01, Max: 1000000},
			{Kind: PlausibilityLength, Column: "nome_produto", Min: 3, Max: 200},
		},
	}
}

func defaultSales() DatasetSchema {
	return DatasetSchema{
		Name: DatasetSales,
		File: "vendas.csv",
		Columns: []ColumnSpec{
			{Name: "id_venda", Type: TypeInteger, Critical: true},
			{Name: "id_cliente", Type: TypeInteger, Critical: true},
			{Name: "id_produto", Type: TypeInteger, Critical: true},
			{Name: "quantidade", Type: TypeInteger, Critical: true},
			{Name: "valor_unitario", Type: TypeNumber, Critical: true},
			{Name: "valor_total", Type: TypeNumber, Nullable: true},
			{Name: "data_venda", Type: TypeDate, Critical: true},
			{Name: "status", Type: TypeString, Critical: true},
		},
		IdentityKeys:  []string{"id_venda"},
		RecencyColumn: "data_venda",
		ForeignKeys: []ForeignKey{
			{Column: "id_cliente", References: DatasetCustomers, RefColumn: "id_cliente"},
			{Column: "id_produto", References: DatasetProducts, RefColumn: "id_produto", ActiveColumn: "ativo"},
		},
		Normalizations: []Normalization{
			{Column: "status", Kind: NormalizeTitle},
			{Column: "data_venda", Kind: NormalizeISODate},
		},
		RangeRules: []RangeRule{
			{Column: "quantidade", Min: ptrFloat(0), Action: RangeReject},
			{Column: "valor_unitario", Min: ptrFloat(0), Action: RangeAbs},
			{Column: "valor_total", Min: ptrFloat(0), Action: RangeAbs},
		},
		NoFutureDates: []string{"data_venda"},
		DerivedRules: []DerivedRule{
			{Target: "valor_total", Factors: []string{"quantidade", "valor_unitario"}, Tolerance: 0.01},
		},
		FormatRules: []FormatRule{
			{Column: "quantidade", Min: ptrFloat(1), Max: ptrFloat(1000)},
			{Column: "valor_unitario", Min: ptrFloat(0.01)},
			{Column: "status", Enum: []string{"Concluída", "Pendente", "Cancelada", "Processando"}},
		},
		ConsistencyRules: []ConsistencyRule{
			{Kind: ConsistencyISODate, Column: "data_venda"},
		},
		PlausibilityRules: []PlausibilityRule{
			{Kind: PlausibilityRange, Column: "quantidade", Min: 1, Max: 1000},
			{Kind: PlausibilityRange, Column: "valor_total", Min: 0, Max: 10000000},
		},
		Freshness: &Freshness{Column: "data_venda", MaxAge: 365 * day},
	}
}

func defaultShipments() DatasetSchema {
	return DatasetSchema{
		Name: DatasetShipments,
		File: "logistica.csv",
		Columns: []ColumnSpec{
			{Name: "id_entrega", Type: TypeInteger, Critical: true},
			{Name: "id_venda", Type: TypeInteger, Critical: true},
			{Name: "transportadora", Type: TypeString, Nullable: true},
			{Name: "data_envio", Type: TypeDate, Nullable: true},
			{Name: "data_entrega_prevista", Type: TypeDate, Nullable: true},
			{Name: "data_entrega_real", Type: TypeDate, Nullable: true},
			{Name: "status_entrega", Type: TypeString, Critical: true},
		},
		IdentityKeys:  []string{"id_entrega"},
		RecencyColumn: "data_envio",
		ForeignKeys: []ForeignKey{
			{Column: "id_venda", References: DatasetSales, RefColumn: "id_venda"},
		},
		Normalizations: []Normalization{
			{Column: "transportadora", Kind: NormalizeTitle},
			{Column: "status_entrega", Kind: NormalizeTitle},
			{Column: "data_envio", Kind: NormalizeISODate},
			{Column: "data_entrega_prevista", Kind: NormalizeISODate},
			{Column: "data_entrega_real", Kind: NormalizeISODate},
		},
		FormatRules: []FormatRule{
			{Column: "status_entrega", Enum: []string{"Entregue", "Em Trânsito", "Cancelada", "Aguardando Envio"}},
		},
		ConsistencyRules: []ConsistencyRule{
			{Kind: ConsistencyDateOrder, Column: "data_envio", Other: "data_entrega_real"},
			{Kind: ConsistencyISODate, Column: "data_envio"},
		},
		Freshness: &Freshness{Column: "data_envio", MaxAge: 365 * day},
	}
}
