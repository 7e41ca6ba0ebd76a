/*
 * @module api/controllers/pipeline_controller
 * @description 流水线控制器，手动触发一次质量运行
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 请求接收 -> Runner.Run -> 返回报告摘要
 * @rules 运行进行中返回 409；部分失败仍返回报告并附带错误信息
 * @dependencies net/http, github.com/go-chi/render
 * @refs service/pipeline/runner.go
 */

package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"dataquality-service/service/models"
	"dataquality-service/service/report"

	"github.com/go-chi/render"
)

// PipelineRunner 运行一次质量流水线
type PipelineRunner interface {
	Run(ctx context.Context) (*report.Report, error)
}

// PipelineController 流水线控制器
type PipelineController struct {
	runner PipelineRunner
}

// NewPipelineController 创建流水线控制器实例
func NewPipelineController(runner PipelineRunner) *PipelineController {
	return &PipelineController{runner: runner}
}

// RunResult 运行结果摘要
type RunResult struct {
	RunID          string   `json:"run_id"`
	Overall        float64  `json:"overall"`
	OverallBefore  float64  `json:"overall_before"`
	Classification string   `json:"classification"`
	Excluded       []string `json:"excluded"`
	Removed        int      `json:"removed"`
	Alerts         int      `json:"alerts"`
	Warning        string   `json:"warning,omitempty"`
}

// Run 触发一次运行
func (c *PipelineController) Run(w http.ResponseWriter, r *http.Request) {
	rep, err := c.runner.Run(r.Context())
	switch {
	case errors.Is(err, models.ErrRunInProgress):
		respond(w, r, ErrorResponse(http.StatusConflict, "质量流水线正在运行", err))
		return
	case models.IsConfigurationError(err):
		respond(w, r, BadRequestResponse("配置错误", err))
		return
	case err != nil && rep == nil:
		slog.Error("手动运行失败", "error", err)
		respond(w, r, InternalErrorResponse("质量流水线运行失败", err))
		return
	}

	result := RunResult{
		RunID:          rep.RunID,
		Overall:        rep.Overall,
		OverallBefore:  rep.OverallBefore,
		Classification: rep.Classification,
		Excluded:       sortedNames(rep.Summary.Excluded),
		Removed:        len(rep.Summary.Removed),
		Alerts:         len(rep.Alerts),
	}
	if err != nil {
		result.Warning = err.Error()
	}
	render.JSON(w, r, SuccessResponse("质量流水线运行完成", result))
}
