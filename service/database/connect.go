/*
 * @module service/database/connect
 * @description 数据库连接：PostgreSQL(DATABASE_URL 或 DB_*) 或 SQLite(SQLITE_PATH)
 * @architecture 数据访问层 - 连接管理
 * @documentReference DESIGN.md
 * @stateFlow 读取环境变量 -> 选择驱动 -> gorm.Open -> 连接池设置
 * @rules 优先使用 DATABASE_URL；设置 SQLITE_PATH 时使用 SQLite
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite
 * @refs main.go, cmd/dqctl
 */

package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options 数据库连接配置
type Options struct {
	// DSN PostgreSQL 连接串；为空且 SQLitePath 非空时使用 SQLite
	DSN        string
	SQLitePath string
	Schema     string
	LogLevel   logger.LogLevel
}

// OptionsFromEnv 从环境变量读取连接配置
func OptionsFromEnv() Options {
	opts := Options{
		SQLitePath: os.Getenv("SQLITE_PATH"),
		Schema:     getEnvWithDefault("DB_SCHEMA", "public"),
		LogLevel:   logger.Warn,
	}
	if opts.SQLitePath != "" {
		return opts
	}

	// 优先使用DATABASE_URL环境变量
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		opts.DSN = databaseURL
		return opts
	}
	host := getEnvWithDefault("DB_HOST", "localhost")
	port := getEnvWithDefault("DB_PORT", "5432")
	user := getEnvWithDefault("DB_USER", "postgres")
	password := os.Getenv("DB_PASSWORD")
	dbname := getEnvWithDefault("DB_NAME", "postgres")
	sslmode := getEnvWithDefault("DB_SSLMODE", "disable")
	opts.DSN = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		host, port, user, password, dbname, sslmode, opts.Schema)
	return opts
}

// Open 打开数据库连接
func Open(opts Options) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(opts.LogLevel)}

	if opts.SQLitePath != "" {
		db, err := gorm.Open(sqlite.Open(opts.SQLitePath), cfg)
		if err != nil {
			return nil, fmt.Errorf("SQLite连接失败: %w", err)
		}
		// SQLite 只允许单个写连接
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
		slog.Info("数据库连接成功", "driver", "sqlite", "path", opts.SQLitePath)
		return db, nil
	}

	db, err := gorm.Open(postgres.Open(opts.DSN), cfg)
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	slog.Info("数据库连接成功", "driver", "postgres", "schema", opts.Schema)
	return db, nil
}

// Ping 检查数据库连通性
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// getEnvWithDefault 获取环境变量，如果不存在则返回默认值
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
