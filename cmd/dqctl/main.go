// dqctl 以批处理方式执行一次数据质量流水线，并校验质量配置文件
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"dataquality-service/logger"
	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/cleaning"
	"dataquality-service/service/config"
	"dataquality-service/service/database"
	"dataquality-service/service/metrics"
	"dataquality-service/service/pipeline"
	"dataquality-service/service/report"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "dqctl",
		Short:         "数据质量批处理工具",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitLogger(logLevel)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "质量配置文件(YAML)，为空时使用内置默认配置")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "日志级别 (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd(&configPath), newValidateCmd(&configPath))
	return cmd
}

type runFlags struct {
	dataDir     string
	outputDir   string
	metricsFile string
	auditFile   string
	sqlitePath  string
	failUnder   float64
}

func newRunCmd(configPath *string) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行一次摄取、清洗、评分与告警，并输出质量报告",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runOnce(ctx, *configPath, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&f.dataDir, "data-dir", "d", "", "数据集文件所在目录(覆盖配置)")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "输出目录：写入 report.json、report.txt 与各数据集的 <名称>_cleaned.csv")
	cmd.Flags().StringVar(&f.metricsFile, "metrics-file", "", "将 Prometheus 文本格式指标写入该文件")
	cmd.Flags().StringVar(&f.auditFile, "audit-file", "", "将审计条目追加到该 JSON Lines 文件")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite", "", "将审计、告警历史与报告保存到该 SQLite 文件")
	cmd.Flags().Float64Var(&f.failUnder, "fail-under", 0, "综合评分低于该值时以错误退出")
	return cmd
}

func runOnce(ctx context.Context, configPath string, f runFlags, out io.Writer) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if f.dataDir != "" {
		settings.Ingestion.DataDir = f.dataDir
	}

	var (
		auditStores []audit.Store
		history     alerting.HistoryStore
		reports     report.Store
	)
	if f.sqlitePath != "" {
		db, err := database.Open(database.Options{SQLitePath: f.sqlitePath, LogLevel: gormlogger.Silent})
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		if err := database.AutoMigrate(db, ""); err != nil {
			return err
		}
		auditStores = append(auditStores, audit.NewGormStore(db))
		history = alerting.NewGormHistoryStore(db)
		reports = report.NewGormStore(db)
	}
	if f.auditFile != "" {
		jsonl, err := audit.NewJSONLinesStore(f.auditFile)
		if err != nil {
			return err
		}
		auditStores = append(auditStores, jsonl)
	}

	notifiers, closers, err := alerting.NotifiersFromEnv(os.LookupEnv)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	var sink cleaning.Sink
	if f.outputDir != "" {
		sink = cleaning.DirSink{Dir: f.outputDir}
	}

	registry := prometheus.NewRegistry()
	runner, err := pipeline.NewRunner(settings, pipeline.Options{
		Recorder: audit.NewRecorder(nil, auditStores...),
		Alerts:   alerting.NewEngine(settings, history, nil, notifiers...),
		Reports:  reports,
		Metrics:  metrics.New(registry),
		Sink:     sink,
	})
	if err != nil {
		return err
	}

	rep, runErr := runner.Run(ctx)
	if rep == nil {
		return runErr
	}

	rep.WriteText(out)
	if f.outputDir != "" {
		if err := writeReport(f.outputDir, rep); err != nil {
			return err
		}
	}
	if f.metricsFile != "" {
		if err := metrics.WriteTextfile(f.metricsFile, registry); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if f.failUnder > 0 && rep.Overall < f.failUnder {
		return fmt.Errorf("综合评分 %.2f 低于 %.2f", rep.Overall, f.failUnder)
	}
	return nil
}

func writeReport(dir string, rep *report.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}
	body, err := rep.JSON()
	if err != nil {
		return fmt.Errorf("序列化质量报告失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.json"), body, 0o644); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report.txt"), []byte(rep.Text()), 0o644); err != nil {
		return fmt.Errorf("写入报告失败: %w", err)
	}
	return nil
}

func newValidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "校验质量配置并输出清洗顺序",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			order, err := settings.CleaningOrder()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "配置有效: %d 个数据集\n", len(settings.Datasets))
			for i, name := range order {
				fmt.Fprintf(out, "  %d. %s\n", i+1, name)
			}
			return nil
		},
	}
}
