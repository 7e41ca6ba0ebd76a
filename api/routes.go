/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference DESIGN.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式；写操作需要 Token 鉴权
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers, main.go
 */

package api

import (
	"context"

	"dataquality-service/api/controllers"
	apimw "dataquality-service/api/middleware"
	"dataquality-service/service/alerting"
	"dataquality-service/service/audit"
	"dataquality-service/service/report"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
)

// Dependencies 路由依赖的服务
type Dependencies struct {
	Runner   controllers.PipelineRunner
	Reports  report.Store
	Alerts   *alerting.Engine
	Recorder *audit.Recorder
	Auth     *apimw.TokenAuthMiddleware
	Ready    func(ctx context.Context) error
}

// InitRoute 初始化所有API路由
func InitRoute(r chi.Router, deps Dependencies) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(deps.Ready)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	auth := deps.Auth
	if auth == nil {
		auth = apimw.NewTokenAuthMiddleware("")
	}

	// 流水线
	r.Route("/pipeline", func(r chi.Router) {
		pipelineController := controllers.NewPipelineController(deps.Runner)
		r.With(auth.Middleware).Post("/run", pipelineController.Run)
	})

	qualityController := controllers.NewQualityController(deps.Reports, deps.Alerts, deps.Recorder)

	// 质量报告
	r.Route("/quality", func(r chi.Router) {
		r.Get("/reports/latest", qualityController.LatestReport)
	})

	// 告警
	r.Route("/alerts", func(r chi.Router) {
		r.Get("/", qualityController.ListAlerts)
		r.Get("/{id}/history", qualityController.AlertHistory)
	})

	// 审计日志
	r.Get("/audit", qualityController.ListAudit)
}
