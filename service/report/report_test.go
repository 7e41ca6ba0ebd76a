package report

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/config"
	"dataquality-service/service/ingestion"
	"dataquality-service/service/models"
	"dataquality-service/service/scoring"
	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCustomersReport(t *testing.T) *Report {
	t.Helper()
	ctx := context.Background()
	settings := config.Default()
	clock := testutil.Clock(testutil.FixedNow)

	batch := ingestion.NewPipeline(settings, audit.NewRecorder(clock)).IngestAll(ctx, []ingestion.Source{
		ingestion.BytesSource{Name: config.DatasetCustomers, Data: []byte(testutil.CustomersCSV())},
		ingestion.BytesSource{Name: config.DatasetProducts, Data: []byte("id_produto,nome_produto\n1,x\n")},
	})
	require.Len(t, batch.Excluded, 1)

	result, err := cleaning.NewCleaner(settings, clock).Clean(ctx, batch.Datasets)
	require.NoError(t, err)

	scorer, err := scoring.NewScorer(settings, clock)
	require.NoError(t, err)
	before, err := scorer.ScoreAll(batch.Datasets)
	require.NoError(t, err)
	after, err := scorer.ScoreAll(result.Datasets)
	require.NoError(t, err)

	alert := alerting.Open(alerting.Breach{
		Dataset: config.DatasetCustomers, Source: string(models.Validity),
		Measured: 68.75, Threshold: 95, Deviation: 31.25,
	}, &settings.Alerting, testutil.FixedNow)

	return Build(settings, Input{
		RunID:       "run-42",
		GeneratedAt: testutil.FixedNow,
		Batch:       batch,
		Cleaning:    result,
		Before:      before,
		After:       after,
		Alerts:      []alerting.Alert{alert},
	})
}

func TestBuild(t *testing.T) {
	r := buildCustomersReport(t)

	assert.Equal(t, "run-42", r.RunID)
	assert.Equal(t, 92.71, r.OverallBefore)
	assert.Equal(t, 100.0, r.Overall)
	assert.Equal(t, "Excellent", r.Classification)
	assert.Contains(t, r.Recommendation, "Excelente")

	require.Len(t, r.Datasets, 1)
	assert.Equal(t, config.DatasetCustomers, r.Datasets[0].Dataset)
	assert.Equal(t, 7.29, r.Datasets[0].Delta)

	assert.Equal(t, []string{config.DatasetCustomers}, r.Summary.Ingested)
	assert.Contains(t, r.Summary.Excluded, config.DatasetProducts)
	require.Len(t, r.Summary.Removed, 1)
	assert.Equal(t, "dedup:id_cliente", r.Summary.Removed[0].RuleID)
	assert.Equal(t, 7, r.Summary.Removed[0].Row)
	// 三个非法邮箱置空，一个大写邮箱转小写
	assert.Equal(t, 4, r.Summary.ChangesByRule["normalize:email"])
	assert.Len(t, r.Summary.Audit, 2)
}

func TestText(t *testing.T) {
	text := buildCustomersReport(t).Text()

	assert.Contains(t, text, "run-42")
	assert.Contains(t, text, "综合评分: 100.0% - Excellent (清洗前 92.7%)")
	assert.Contains(t, text, "被排除的数据集:")
	assert.Contains(t, text, "produtos")
	assert.Contains(t, text, "移除的记录 (1，其中冲突 0)")
	assert.Contains(t, text, "[CRITICAL] open clientes/validity")
	assert.Contains(t, text, "Excelente qualidade! Manter boas práticas.")
}

func TestJSON(t *testing.T) {
	body, err := buildCustomersReport(t).JSON()
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "run-42", decoded["run_id"])
	assert.Contains(t, decoded, "summary")
	assert.Contains(t, decoded, "alerts")
}

func TestJSON_CarriesChangeLog(t *testing.T) {
	r := buildCustomersReport(t)
	body, err := r.JSON()
	require.NoError(t, err)

	var decoded struct {
		Changes []map[string]interface{} `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Len(t, decoded.Changes, len(r.Changes))

	var email map[string]interface{}
	var drop map[string]interface{}
	for _, c := range decoded.Changes {
		switch {
		case c["rule_id"] == "normalize:email" && c["record_key"] == "5":
			email = c
		case c["action"] == string(cleaning.ActionDrop):
			drop = c
		}
	}
	require.NotNil(t, email)
	assert.Equal(t, "update", email["action"])
	assert.Contains(t, email["old_value"], "EVA@Example.COM")
	assert.Equal(t, "eva@example.com", email["new_value"])

	require.NotNil(t, drop)
	snapshot, ok := drop["snapshot"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Gabi Nunes", snapshot["nome"])
}

func TestGormStore(t *testing.T) {
	testDB := testutil.NewTestDB()
	defer testDB.Close()
	ctx := context.Background()
	store := NewGormStore(testDB.DB)

	_, err := store.Latest(ctx)
	assert.True(t, errors.Is(err, ErrNoReport))

	r := buildCustomersReport(t)
	require.NoError(t, store.Save(ctx, r))

	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, latest.RunID)
	assert.Equal(t, r.Overall, latest.Overall)
	require.Len(t, latest.Datasets, 1)
	assert.Equal(t, r.Datasets[0].After.Aggregate, latest.Datasets[0].After.Aggregate)
	require.Len(t, latest.Alerts, 1)
	assert.Equal(t, r.Alerts[0].ID, latest.Alerts[0].ID)
	require.Len(t, latest.Changes, len(r.Changes))
	assert.Equal(t, r.Changes[0].RuleID, latest.Changes[0].RuleID)

	var rec models.QualityReportRecord
	require.NoError(t, testDB.DB.First(&rec).Error)
	assert.Equal(t, "Excellent", rec.Classification)
	assert.Equal(t, 1, rec.AlertCount)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoReport)

	r := Build(config.Default(), Input{RunID: "empty", GeneratedAt: testutil.FixedNow})
	require.NoError(t, store.Save(ctx, r))
	latest, err := store.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 100.0, latest.Overall)
	assert.Equal(t, "Excellent", latest.Classification)
}
