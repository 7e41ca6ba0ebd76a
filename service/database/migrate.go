/*
 * @module service/database/migrate
 * @description 数据库迁移模块，负责创建审计、告警历史与质量报告表
 * @architecture 数据访问层 - 迁移管理
 * @documentReference DESIGN.md
 * @stateFlow 应用启动时执行数据库迁移
 * @rules 确保数据库结构与模型定义保持一致；PostgreSQL 下先确保 schema 存在
 * @dependencies dataquality-service/service/models, gorm.io/gorm
 * @refs service/models/quality_records.go
 */

package database

import (
	"fmt"
	"log/slog"

	"dataquality-service/service/models"

	"gorm.io/gorm"
)

// AutoMigrate 自动迁移数据库表结构
func AutoMigrate(db *gorm.DB, schema string) error {
	slog.Info("开始数据库迁移")

	if db.Dialector.Name() == "postgres" && schema != "" && schema != "public" {
		if err := CreateSchema(db, schema); err != nil {
			return err
		}
	}
	if err := db.AutoMigrate(models.AllModels()...); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	slog.Info("数据库表结构迁移完成")
	return nil
}

// CheckSchemaExists schema 是否存在
func CheckSchemaExists(db *gorm.DB, schemaName string) bool {
	var count int64
	db.Raw("SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?", schemaName).Scan(&count)
	return count > 0
}

// CreateSchema 创建 schema (使用双引号避免保留关键字问题)
func CreateSchema(db *gorm.DB, schemaName string) error {
	if CheckSchemaExists(db, schemaName) {
		return nil
	}
	if err := db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS \"%s\";", schemaName)).Error; err != nil {
		return fmt.Errorf("创建 schema %s 失败: %w", schemaName, err)
	}
	slog.Info("成功创建 schema", "schema", schemaName)
	return nil
}
