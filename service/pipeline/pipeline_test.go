package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/config"
	"dataquality-service/service/ingestion"
	"dataquality-service/service/metrics"
	"dataquality-service/service/models"
	"dataquality-service/service/report"
	"dataquality-service/service/runlock"
	"dataquality-service/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type RunnerTestSuite struct {
	suite.Suite
	testDB   *testutil.TestDB
	settings *config.Settings
	metrics  *metrics.Metrics
	history  *alerting.GormHistoryStore
	reports  *report.GormStore
	runner   *Runner
}

func (s *RunnerTestSuite) SetupTest() {
	s.testDB = testutil.NewTestDB()
	dir := s.T().TempDir()
	for name, content := range testutil.TechCommerceFiles() {
		testutil.WriteFile(s.T(), dir, name, content)
	}

	s.settings = config.Default()
	s.settings.Ingestion.DataDir = dir
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.history = alerting.NewGormHistoryStore(s.testDB.DB)
	s.reports = report.NewGormStore(s.testDB.DB)

	clock := testutil.Clock(testutil.FixedNow)
	runner, err := NewRunner(s.settings, Options{
		Recorder: audit.NewRecorder(clock, audit.NewGormStore(s.testDB.DB)),
		Alerts:   alerting.NewEngine(s.settings, s.history, clock),
		Reports:  s.reports,
		Metrics:  s.metrics,
		Now:      clock,
	})
	s.Require().NoError(err)
	s.runner = runner
}

func (s *RunnerTestSuite) TearDownTest() {
	s.testDB.Close()
}

func (s *RunnerTestSuite) alert(alerts []alerting.Alert, dataset, source string) (alerting.Alert, bool) {
	for _, a := range alerts {
		if a.Dataset == dataset && a.Source == source {
			return a, true
		}
	}
	return alerting.Alert{}, false
}

func (s *RunnerTestSuite) TestRun_TechCommerce() {
	rep, err := s.runner.Run(context.Background())
	s.Require().NoError(err)

	s.NotEmpty(rep.RunID)
	s.Equal(testutil.FixedNow, rep.GeneratedAt)
	s.Empty(rep.Summary.Excluded)
	s.Len(rep.Summary.Ingested, 4)
	s.Len(rep.Datasets, 4)

	removed := map[string]string{}
	for _, rm := range rep.Summary.Removed {
		removed[rm.Dataset+"/"+rm.RecordKey] = rm.Action
	}
	s.Equal("drop", removed["clientes/7"])
	s.Equal("orphan", removed["vendas/1003"])
	s.Equal("quarantine", removed["vendas/1004"])
	s.Equal("orphan", removed["logistica/5003"])

	// 1/5 销售为孤儿记录，偏差 20% 为 Critical
	orphan, ok := s.alert(rep.Alerts, config.DatasetSales, config.RuleOrphanRate)
	s.Require().True(ok)
	s.Equal(models.SeverityCritical, orphan.Severity)
	s.Equal(20.0, orphan.Measured)
	s.Equal(testutil.FixedNow.Add(4*time.Hour), orphan.Deadline)

	_, ok = s.alert(rep.Alerts, config.DatasetShipments, config.RuleOrphanRate)
	s.True(ok)
	_, ok = s.alert(rep.Alerts, config.DatasetCustomers, config.RuleSchemaError)
	s.False(ok)

	audits, err := s.runner.Recorder().List(context.Background(), "", 0)
	s.Require().NoError(err)
	s.Len(audits, 4)
	for _, e := range audits {
		s.Equal(rep.RunID, e.RunID)
	}

	latest, err := s.reports.Latest(context.Background())
	s.Require().NoError(err)
	s.Equal(rep.RunID, latest.RunID)
}

func (s *RunnerTestSuite) TestRun_Metrics() {
	_, err := s.runner.Run(context.Background())
	s.Require().NoError(err)

	s.Equal(1.0, promtest.ToFloat64(s.metrics.Runs.WithLabelValues("success")))
	s.Equal(16.0, promtest.ToFloat64(s.metrics.Records.WithLabelValues(config.DatasetCustomers, metrics.StageRaw)))
	s.Equal(15.0, promtest.ToFloat64(s.metrics.Records.WithLabelValues(config.DatasetCustomers, metrics.StageCleaned)))
	s.Equal(68.75, promtest.ToFloat64(s.metrics.DimensionScore.WithLabelValues(config.DatasetCustomers, string(models.Validity), metrics.StageRaw)))
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Changes.WithLabelValues(config.DatasetSales, "orphan")))
	s.Equal(0.0, promtest.ToFloat64(s.metrics.ExcludedDataset))
	s.GreaterOrEqual(promtest.ToFloat64(s.metrics.ActiveAlerts.WithLabelValues(string(models.SeverityCritical))), 2.0)
}

func (s *RunnerTestSuite) TestRun_RepeatKeepsSingleAlert() {
	ctx := context.Background()
	first, err := s.runner.Run(ctx)
	s.Require().NoError(err)
	second, err := s.runner.Run(ctx)
	s.Require().NoError(err)

	s.NotEqual(first.RunID, second.RunID)
	s.Equal(first.Overall, second.Overall)
	s.Equal(len(first.Alerts), len(second.Alerts))

	a, ok := s.alert(second.Alerts, config.DatasetSales, config.RuleOrphanRate)
	s.Require().True(ok)
	history, err := s.history.History(ctx, a.ID)
	s.Require().NoError(err)
	s.Len(history, 1)
	s.Equal(models.AlertEventOpened, history[0].Event)

	audits, err := s.runner.Recorder().List(ctx, config.DatasetSales, 0)
	s.Require().NoError(err)
	s.Require().Len(audits, 2)
	s.Equal(models.OutcomeUnchanged, audits[0].Outcome)
}

func (s *RunnerTestSuite) TestRun_ExcludedDatasetRaisesSchemaAlert() {
	testutil.WriteFile(s.T(), s.settings.Ingestion.DataDir, "produtos.csv", "id_produto,nome_produto\n1,x\n")

	rep, err := s.runner.Run(context.Background())
	s.Require().NoError(err)

	s.Contains(rep.Summary.Excluded, config.DatasetProducts)
	// 销售依赖商品，商品被排除时销售与物流不参与清洗
	s.Contains(rep.Summary.Excluded, config.DatasetSales)
	s.Contains(rep.Summary.Excluded, config.DatasetShipments)

	a, ok := s.alert(rep.Alerts, config.DatasetProducts, config.RuleSchemaError)
	s.Require().True(ok)
	s.Equal(models.SeverityCritical, a.Severity)
	_, ok = s.alert(rep.Alerts, config.DatasetSales, config.RuleSchemaError)
	s.True(ok)
}

type failingSink struct{ fail string }

func (f failingSink) Write(ctx context.Context, ds *models.Dataset) error {
	if ds.Name == f.fail {
		return errors.New("磁盘已满")
	}
	return nil
}

func (s *RunnerTestSuite) TestRun_SinkFailureKeepsReport() {
	runner, err := NewRunner(s.settings, Options{
		Reports: s.reports,
		Metrics: s.metrics,
		Now:     testutil.Clock(testutil.FixedNow),
		Sink:    failingSink{fail: config.DatasetSales},
	})
	s.Require().NoError(err)

	rep, err := runner.Run(context.Background())
	s.Require().Error(err)
	s.Contains(err.Error(), "磁盘已满")
	s.Require().NotNil(rep)
	s.Equal(1.0, promtest.ToFloat64(s.metrics.Runs.WithLabelValues("partial")))

	latest, err := s.reports.Latest(context.Background())
	s.Require().NoError(err)
	s.Equal(rep.RunID, latest.RunID)
}

func (s *RunnerTestSuite) TestRun_WritesCleanedDatasets() {
	dir := s.T().TempDir()
	runner, err := NewRunner(s.settings, Options{
		Now:  testutil.Clock(testutil.FixedNow),
		Sink: cleaning.DirSink{Dir: dir},
	})
	s.Require().NoError(err)

	_, err = runner.Run(context.Background())
	s.Require().NoError(err)
	for _, name := range s.settings.DatasetNames() {
		s.FileExists(filepath.Join(dir, name+"_cleaned.csv"))
	}
}

func TestRunnerTestSuite(t *testing.T) {
	suite.Run(t, new(RunnerTestSuite))
}

type blockingSource struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingSource) Dataset() string  { return config.DatasetCustomers }
func (b blockingSource) Location() string { return "memory://blocking" }
func (b blockingSource) Read(ctx context.Context) ([]byte, error) {
	close(b.started)
	<-b.release
	return []byte(testutil.CustomersCSV()), nil
}

func TestRun_RejectsOverlap(t *testing.T) {
	src := blockingSource{started: make(chan struct{}), release: make(chan struct{})}
	runner, err := NewRunner(config.Default(), Options{
		Now:     testutil.Clock(testutil.FixedNow),
		Sources: func() []ingestion.Source { return []ingestion.Source{src} },
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := runner.Run(context.Background())
		done <- err
	}()

	<-src.started
	assert.True(t, runner.Running())
	_, err = runner.Run(context.Background())
	assert.ErrorIs(t, err, models.ErrRunInProgress)

	close(src.release)
	require.NoError(t, <-done)
	assert.False(t, runner.Running())
}

func TestRun_SharedLockRejectsOtherRunner(t *testing.T) {
	lock := runlock.NewLocalLock()
	ok, err := lock.TryLock(context.Background(), lockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	runner, err := NewRunner(config.Default(), Options{
		Lock:    lock,
		Now:     testutil.Clock(testutil.FixedNow),
		Sources: func() []ingestion.Source { return nil },
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background())
	assert.ErrorIs(t, err, models.ErrRunInProgress)

	require.NoError(t, lock.Unlock(context.Background(), lockKey))
	rep, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100.0, rep.Overall)
}

func TestNewRunner_ConfigurationError(t *testing.T) {
	settings := config.Default()
	settings.Alerting.Thresholds[models.Validity] = 150

	_, err := NewRunner(settings, Options{})
	require.Error(t, err)
	assert.True(t, models.IsConfigurationError(err))
}

func TestViolations(t *testing.T) {
	settings := config.Default()
	batch := &ingestion.Batch{
		Datasets: map[string]*models.Dataset{},
		Excluded: map[string]error{config.DatasetProducts: &models.SchemaError{Dataset: config.DatasetProducts}},
	}
	ctx := context.Background()
	raw := ingestion.NewPipeline(settings, audit.NewRecorder(testutil.Clock(testutil.FixedNow))).IngestAll(ctx, []ingestion.Source{
		ingestion.BytesSource{Name: config.DatasetCustomers, Data: []byte(testutil.CustomersCSV())},
	})
	batch.Datasets = raw.Datasets

	runner, err := NewRunner(settings, Options{Now: testutil.Clock(testutil.FixedNow)})
	require.NoError(t, err)
	cleaned, err := runner.cleaner.Clean(ctx, batch.Datasets)
	require.NoError(t, err)

	byKey := map[string]alerting.RuleViolation{}
	for _, v := range Violations(settings, batch, cleaned) {
		byKey[v.Dataset+"/"+v.RuleID] = v
	}

	assert.Equal(t, 100.0, byKey["produtos/schema_error"].Rate())
	assert.Equal(t, 0.0, byKey["clientes/schema_error"].Rate())
	assert.Equal(t, 16, byKey["clientes/orphan_rate"].Total)
	assert.Equal(t, 0, byKey["clientes/quarantine_rate"].Affected)
	assert.NotContains(t, byKey, "produtos/orphan_rate")
	// 未摄取的数据集只报告结构错误
	assert.Contains(t, byKey, "vendas/schema_error")
	assert.NotContains(t, byKey, "vendas/orphan_rate")
}

func TestScheduler(t *testing.T) {
	runner, err := NewRunner(config.Default(), Options{
		Now:     testutil.Clock(testutil.FixedNow),
		Sources: func() []ingestion.Source { return nil },
	})
	require.NoError(t, err)

	bad := NewScheduler(runner, "not a cron", "")
	assert.Error(t, bad.Start())

	s := NewScheduler(runner, "0 0 * * * *", DefaultEscalationSpec)
	require.NoError(t, s.Start())
	assert.Equal(t, 2, s.Jobs())
	assert.Error(t, s.Start())
	s.Stop()

	s.TriggerRun(context.Background())
	latest, err := runner.Reports().Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Excellent", latest.Classification)
	s.TriggerEscalation(context.Background())
}
