package scoring

import (
	"context"
	"testing"

	"dataquality-service/service/audit"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/config"
	"dataquality-service/service/ingestion"
	"dataquality-service/service/models"
	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScorer(t *testing.T, settings *config.Settings) *Scorer {
	t.Helper()
	s, err := NewScorer(settings, testutil.Clock(testutil.FixedNow))
	require.NoError(t, err)
	return s
}

func rawCustomers(t *testing.T) *models.Dataset {
	t.Helper()
	p := ingestion.NewPipeline(config.Default(), audit.NewRecorder(nil))
	ds, err := p.Ingest(context.Background(), ingestion.BytesSource{
		Name: config.DatasetCustomers,
		Data: []byte(testutil.CustomersCSV()),
	})
	require.NoError(t, err)
	return ds
}

func TestScore_RawAndCleanedCustomers(t *testing.T) {
	settings := config.Default()
	scorer := newScorer(t, settings)
	raw := rawCustomers(t)

	before, err := scorer.Score(raw)
	require.NoError(t, err)
	assert.Equal(t, 16, before.Records)
	assert.Equal(t, 100.0, before.Score(models.Completeness))
	assert.Equal(t, 93.75, before.Score(models.Uniqueness))
	// 三个非法邮箱、带空格的大写邮箱、带格式的电话与小写州代码
	assert.Equal(t, 68.75, before.Score(models.Validity))
	assert.Equal(t, 93.75, before.Score(models.Consistency))
	assert.Equal(t, 100.0, before.Score(models.Accuracy))
	assert.Equal(t, 100.0, before.Score(models.Timeliness))
	assert.Equal(t, 92.71, before.Aggregate)
	assert.Equal(t, "Acceptable", before.Classification)

	result, err := cleaning.NewCleaner(settings, testutil.Clock(testutil.FixedNow)).
		Clean(context.Background(), map[string]*models.Dataset{config.DatasetCustomers: raw})
	require.NoError(t, err)

	after, err := scorer.Score(result.Datasets[config.DatasetCustomers])
	require.NoError(t, err)
	assert.Equal(t, 15, after.Records)
	for _, d := range models.AllDimensions {
		assert.Equal(t, 100.0, after.Score(d), string(d))
	}
	assert.Equal(t, "Excellent", after.Classification)

	validity, ok := before.Dimension(models.Validity)
	require.True(t, ok)
	assert.Equal(t, 5, validity.Failed())
	assert.Equal(t, 95.0, validity.Threshold)
}

func TestScore_EmptyDataset(t *testing.T) {
	scorer := newScorer(t, config.Default())
	for _, name := range config.Default().DatasetNames() {
		schema, _ := config.Default().Dataset(name)
		report, err := scorer.Score(models.NewDataset(name, schema.ColumnNames()))
		require.NoError(t, err)
		assert.Len(t, report.Dimensions, len(models.AllDimensions))
		for _, d := range report.Dimensions {
			assert.Equal(t, 100.0, d.Score, "%s %s", name, d.Dimension)
		}
		assert.Equal(t, 100.0, report.Aggregate)
	}
}

func TestScore_Bounds(t *testing.T) {
	settings := config.Default()
	scorer := newScorer(t, settings)

	ds := models.NewDataset(config.DatasetProducts, []string{"id_produto", "nome_produto", "preco"})
	for i := 0; i < 4; i++ {
		ds.Records = append(ds.Records, models.Record{
			"id_produto":   models.Number(1),
			"nome_produto": models.Null(),
			"preco":        models.String("caro"),
		})
	}

	report, err := scorer.Score(ds)
	require.NoError(t, err)
	for _, d := range report.Dimensions {
		assert.GreaterOrEqual(t, d.Score, 0.0)
		assert.LessOrEqual(t, d.Score, 100.0)
	}
	assert.Equal(t, 25.0, report.Score(models.Uniqueness))
	assert.Equal(t, 0.0, report.Score(models.Validity))
	assert.GreaterOrEqual(t, report.Aggregate, 0.0)
	assert.LessOrEqual(t, report.Aggregate, 100.0)
	assert.Equal(t, "Critical", report.Classification)
}

func TestScore_Weights(t *testing.T) {
	settings := config.Default()
	for _, d := range models.AllDimensions {
		settings.Scoring.Weights[d] = 0
	}
	settings.Scoring.Weights[models.Validity] = 1

	report, err := newScorer(t, settings).Score(rawCustomers(t))
	require.NoError(t, err)
	assert.Equal(t, 68.75, report.Aggregate)
}

func TestScore_UndeclaredDataset(t *testing.T) {
	_, err := newScorer(t, config.Default()).Score(models.NewDataset("pedidos", nil))
	assert.Error(t, err)
}

func TestScoreAll(t *testing.T) {
	scorer := newScorer(t, config.Default())
	raw := rawCustomers(t)
	schema, _ := config.Default().Dataset(config.DatasetProducts)

	summary, err := scorer.ScoreAll(map[string]*models.Dataset{
		config.DatasetCustomers: raw,
		config.DatasetProducts:  models.NewDataset(config.DatasetProducts, schema.ColumnNames()),
	})
	require.NoError(t, err)
	require.Len(t, summary.Reports, 2)
	assert.Equal(t, config.DatasetCustomers, summary.Reports[0].Dataset)
	assert.InDelta(t, 96.36, summary.Aggregate, 0.011)
	assert.Equal(t, "Good", summary.Classification)

	_, ok := summary.Report(config.DatasetProducts)
	assert.True(t, ok)

	empty, err := scorer.ScoreAll(nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, empty.Aggregate)
}

func TestNewScorer_InvalidPattern(t *testing.T) {
	settings := config.Default()
	settings.Datasets[0].FormatRules = append(settings.Datasets[0].FormatRules, config.FormatRule{Column: "email", Pattern: "("})
	_, err := NewScorer(settings, nil)
	require.Error(t, err)
	assert.True(t, models.IsConfigurationError(err))
}
