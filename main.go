package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"dataquality-service/api"
	apimw "dataquality-service/api/middleware"
	"dataquality-service/logger"
	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/cleanup"
	"dataquality-service/service/config"
	"dataquality-service/service/database"
	"dataquality-service/service/metrics"
	"dataquality-service/service/pipeline"
	"dataquality-service/service/report"
	"dataquality-service/service/runlock"

	daprd "github.com/dapr/go-sdk/service/http"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cast"
)

var (
	PORT         = 80
	BASE_CONTEXT = ""
)

func init() {
	if val := os.Getenv("LISTEN_PORT"); val != "" {
		PORT, _ = strconv.Atoi(val)
	}

	if val := os.Getenv("BASE_CONTEXT"); val != "" {
		BASE_CONTEXT = val
	}
}

func main() {
	logger.InitLogger(os.Getenv("LOG_LEVEL"))
	if err := run(); err != nil {
		slog.Error("服务退出", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.Load(os.Getenv("DQ_CONFIG"))
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}

	dbOpts := database.OptionsFromEnv()
	db, err := database.Open(dbOpts)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db, dbOpts.Schema); err != nil {
		return err
	}

	auditStores := []audit.Store{audit.NewGormStore(db)}
	if path := os.Getenv("DQ_AUDIT_JSONL"); path != "" {
		jsonl, err := audit.NewJSONLinesStore(path)
		if err != nil {
			return err
		}
		auditStores = append(auditStores, jsonl)
	}
	recorder := audit.NewRecorder(nil, auditStores...)

	notifiers, closers, err := alerting.NotifiersFromEnv(os.LookupEnv)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	engine := alerting.NewEngine(settings, alerting.NewGormHistoryStore(db), nil, notifiers...)
	if err := engine.Restore(ctx); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var lock runlock.Lock
	if cast.ToBool(os.Getenv("REDIS_LOCK_ENABLED")) {
		redisLock, err := runlock.NewRedisLock(runlock.RedisOptionsFromEnv())
		if err != nil {
			return err
		}
		defer redisLock.Close()
		lock = redisLock
	}

	var sink cleaning.Sink
	if dir := os.Getenv("DQ_CLEANED_DIR"); dir != "" {
		sink = cleaning.DirSink{Dir: dir}
	}

	reports := report.NewGormStore(db)
	runner, err := pipeline.NewRunner(settings, pipeline.Options{
		Recorder: recorder,
		Alerts:   engine,
		Reports:  reports,
		Metrics:  m,
		Lock:     lock,
		Sink:     sink,
	})
	if err != nil {
		return err
	}

	escalationSpec := pipeline.DefaultEscalationSpec
	if v, ok := os.LookupEnv("DQ_ESCALATION_SCHEDULE"); ok {
		escalationSpec = v
	}
	scheduler := pipeline.NewScheduler(runner, settings.Schedule, escalationSpec)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	retention := cleanup.NewReportRetentionService(db, cast.ToInt(os.Getenv("DQ_REPORT_RETENTION_DAYS")), nil)
	if err := retention.StartScheduledCleanup(); err != nil {
		return err
	}
	defer retention.Stop()

	deps := api.Dependencies{
		Runner:   runner,
		Reports:  reports,
		Alerts:   engine,
		Recorder: recorder,
		Auth:     apimw.NewTokenAuthMiddlewareFromEnv(),
		Ready:    func(ctx context.Context) error { return database.Ping(ctx, db) },
	}
	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})

	mux := chi.NewRouter()
	// 如果有BASE_CONTEXT，则在该路径下挂载所有路由
	if BASE_CONTEXT != "" {
		mux.Route(BASE_CONTEXT, func(r chi.Router) {
			api.InitRoute(r, deps)
			r.Handle("/metrics", metricsHandler)
		})
	} else {
		api.InitRoute(mux, deps)
		mux.Handle("/metrics", metricsHandler)
	}

	s := daprd.NewServiceWithMux(":"+strconv.Itoa(PORT), mux)
	go func() {
		<-ctx.Done()
		slog.Info("收到退出信号，正在停止服务")
		if err := s.GracefulStop(); err != nil {
			slog.Error("停止服务失败", "error", err)
		}
	}()

	slog.Info("数据质量服务启动", "port", PORT, "base_context", BASE_CONTEXT, "auth", deps.Auth.Enabled())
	if err := s.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("服务启动失败: %w", err)
	}
	return nil
}
