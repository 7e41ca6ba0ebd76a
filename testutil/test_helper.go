/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference DESIGN.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dataquality-service/service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FixedNow 测试使用的固定时钟
var FixedNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

// Clock 返回固定时间的时钟函数
func Clock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	// 自动迁移所有模型
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tables := []string{
		"dq_audit_entries",
		"dq_alert_history",
		"dq_quality_reports",
	}

	for _, table := range tables {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// AuditEntryOption 审计条目选项函数类型
type AuditEntryOption func(*models.AuditEntry)

// CreateAuditEntry 创建测试审计条目
func (f *TestDataFactory) CreateAuditEntry(dataset string, opts ...AuditEntryOption) *models.AuditEntry {
	entry := &models.AuditEntry{
		RunID:       "run_" + generateSuffix(),
		Dataset:     dataset,
		Source:      dataset + ".csv",
		Fingerprint: "d41d8cd98f00b204e9800998ecf8427e",
		Outcome:     models.OutcomeSuccess,
		Rows:        10,
		Columns:     5,
		RecordedAt:  FixedNow,
	}

	// 应用选项
	for _, opt := range opts {
		opt(entry)
	}

	if err := f.DB.Create(entry).Error; err != nil {
		panic(fmt.Sprintf("failed to create test audit entry: %v", err))
	}

	return entry
}

// AlertRecordOption 告警记录选项函数类型
type AlertRecordOption func(*models.AlertRecord)

// CreateAlertRecord 创建测试告警历史记录
func (f *TestDataFactory) CreateAlertRecord(dataset, source string, opts ...AlertRecordOption) *models.AlertRecord {
	record := &models.AlertRecord{
		AlertID:       "alert_" + generateSuffix(),
		RunID:         "run_" + generateSuffix(),
		Dataset:       dataset,
		Source:        source,
		Event:         models.AlertEventOpened,
		Status:        "open",
		Severity:      string(models.SeverityMedium),
		MeasuredValue: 92,
		Threshold:     95,
		Deviation:     8,
		OpenedAt:      FixedNow,
		SLADeadline:   FixedNow.Add(48 * time.Hour),
		RecordedAt:    FixedNow,
	}

	// 应用选项
	for _, opt := range opts {
		opt(record)
	}

	if err := f.DB.Create(record).Error; err != nil {
		panic(fmt.Sprintf("failed to create test alert record: %v", err))
	}

	return record
}

func generateSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()%100000)
}

// WriteFile 在目录中写入测试文件并返回路径
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// DecodeJSON 解析响应体
func (h *HTTPTestHelper) DecodeJSON(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

// AssertStatus 断言响应状态码
func (h *HTTPTestHelper) AssertStatus(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, w.Body.String())
}
