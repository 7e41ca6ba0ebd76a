/*
 * @module api/controllers/quality_controller
 * @description 数据质量控制器，提供最新质量报告、告警与审计日志查询
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 请求接收 -> 存储查询 -> 响应返回
 * @rules 报告支持 JSON 与文本两种形式；告警按最新状态过滤
 * @dependencies net/http, github.com/go-chi/chi/v5, github.com/go-chi/render, github.com/spf13/cast
 * @refs service/report, service/alerting, service/audit
 */

package controllers

import (
	"errors"
	"net/http"
	"sort"

	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/spf13/cast"
)

const defaultAuditLimit = 100

// QualityController 数据质量控制器
type QualityController struct {
	reports  report.Store
	alerts   *alerting.Engine
	recorder *audit.Recorder
}

// NewQualityController 创建数据质量控制器实例
func NewQualityController(reports report.Store, alerts *alerting.Engine, recorder *audit.Recorder) *QualityController {
	return &QualityController{reports: reports, alerts: alerts, recorder: recorder}
}

// LatestReport 最新质量报告，format=text 时返回文本形式
func (c *QualityController) LatestReport(w http.ResponseWriter, r *http.Request) {
	rep, err := c.reports.Latest(r.Context())
	if errors.Is(err, report.ErrNoReport) {
		respond(w, r, NotFoundResponse("尚未生成质量报告", err))
		return
	}
	if err != nil {
		respond(w, r, InternalErrorResponse("获取质量报告失败", err))
		return
	}

	if r.URL.Query().Get("format") == "text" {
		render.PlainText(w, r, rep.Text())
		return
	}
	render.JSON(w, r, SuccessResponse("获取质量报告成功", rep))
}

// ListAlerts 告警列表；status=active 返回引擎中的活动告警，其他值按历史最新状态过滤
func (c *QualityController) ListAlerts(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	switch status {
	case "active":
		render.JSON(w, r, SuccessResponse("获取告警成功", c.alerts.Active()))
		return
	case "", string(alerting.StatusOpen), string(alerting.StatusEscalated), string(alerting.StatusResolved):
	default:
		respond(w, r, BadRequestResponse("无效的告警状态: "+status, nil))
		return
	}

	records, err := c.alerts.History().Latest(r.Context(), status)
	if err != nil {
		respond(w, r, InternalErrorResponse("获取告警失败", err))
		return
	}
	alerts := make([]alerting.Alert, 0, len(records))
	for _, rec := range records {
		alerts = append(alerts, alerting.FromRecord(rec))
	}
	render.JSON(w, r, SuccessResponse("获取告警成功", alerts))
}

// AlertHistory 单个告警的状态变更历史
func (c *QualityController) AlertHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	records, err := c.alerts.History().History(r.Context(), id)
	if err != nil {
		respond(w, r, InternalErrorResponse("获取告警历史失败", err))
		return
	}
	if len(records) == 0 {
		respond(w, r, NotFoundResponse("告警不存在: "+id, nil))
		return
	}
	render.JSON(w, r, SuccessResponse("获取告警历史成功", records))
}

// ListAudit 审计日志，支持 dataset 与 limit 参数
func (c *QualityController) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			respond(w, r, BadRequestResponse("limit 必须为正整数", err))
			return
		}
		limit = n
	}

	entries, err := c.recorder.List(r.Context(), r.URL.Query().Get("dataset"), limit)
	if err != nil {
		respond(w, r, InternalErrorResponse("获取审计日志失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("获取审计日志成功", entries))
}

func sortedNames(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
