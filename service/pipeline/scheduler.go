/*
 * @module service/pipeline/scheduler
 * @description 质量流水线定时调度：按 cron 表达式触发运行，并定期检查未观测告警的 SLA 升级
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow Start -> 注册运行/升级检查任务 -> cron 触发 -> Runner.Run / Engine.Tick -> Stop
 * @rules 上一次运行未结束时跳过本次触发；调度器只能启动一次
 * @dependencies github.com/robfig/cron/v3
 * @refs runner.go, main.go
 */

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dataquality-service/service/models"

	"github.com/robfig/cron/v3"
)

// DefaultEscalationSpec 升级检查频率
const DefaultEscalationSpec = "0 */5 * * * *"

// Scheduler 定时调度器
type Scheduler struct {
	runner         *Runner
	runSpec        string
	escalationSpec string

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewScheduler 创建调度器；runSpec 为空时只做升级检查
func NewScheduler(runner *Runner, runSpec, escalationSpec string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:         runner,
		runSpec:        runSpec,
		escalationSpec: escalationSpec,
		cron:           cron.New(cron.WithSeconds()),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start 注册任务并启动调度
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("调度器已经启动")
	}

	if s.runSpec != "" {
		if _, err := s.cron.AddFunc(s.runSpec, func() { s.TriggerRun(s.ctx) }); err != nil {
			return fmt.Errorf("注册运行任务失败(%s): %w", s.runSpec, err)
		}
	}
	if s.escalationSpec != "" {
		if _, err := s.cron.AddFunc(s.escalationSpec, func() { s.TriggerEscalation(s.ctx) }); err != nil {
			return fmt.Errorf("注册升级检查任务失败(%s): %w", s.escalationSpec, err)
		}
	}

	s.cron.Start()
	s.started = true
	slog.Info("质量流水线调度器已启动", "run_spec", s.runSpec, "escalation_spec", s.escalationSpec, "jobs", len(s.cron.Entries()))
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
	slog.Info("质量流水线调度器已停止")
}

// Jobs 已注册的任务数
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// TriggerRun 执行一次定时运行，正在运行时跳过
func (s *Scheduler) TriggerRun(ctx context.Context) {
	rep, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, models.ErrRunInProgress):
		slog.Warn("上一次运行尚未结束，跳过本次定时运行")
	case err != nil && rep == nil:
		slog.Error("定时运行失败", "error", err)
	case err != nil:
		slog.Error("定时运行部分失败", "run_id", rep.RunID, "error", err)
	default:
		slog.Info("定时运行完成", "run_id", rep.RunID, "overall", rep.Overall)
	}
}

// TriggerEscalation 检查活动告警的 SLA，运行进行中时跳过
func (s *Scheduler) TriggerEscalation(ctx context.Context) {
	if s.runner.Running() {
		return
	}
	if _, err := s.runner.Alerts().Tick(ctx); err != nil {
		slog.Error("告警升级检查失败", "error", err)
	}
}
