/*
 * @module service/runlock/lock
 * @description 流水线运行锁：单实例用进程内锁，多实例部署时用 Redis 锁防止同一批次被重复处理
 * @architecture 工具层 - 提供互斥执行能力
 * @documentReference DESIGN.md
 * @stateFlow 获取锁 -> 执行运行 -> 释放锁/自动过期
 * @rules Redis 锁使用 SET NX，只有持有者可以释放或续期
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/pipeline/runner.go, main.go
 */

package runlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"
)

const keyPrefix = "dataquality:run:"

// ErrLockHeld 锁已被其他运行持有
var ErrLockHeld = errors.New("运行锁已被持有")

// Lock 运行锁
type Lock interface {
	// TryLock 尝试获取锁，已被持有时返回 false
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error
	// Refresh 延长锁的过期时间
	Refresh(ctx context.Context, key string, ttl time.Duration) error
}

// LocalLock 进程内运行锁，忽略 ttl
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLock 创建进程内运行锁
func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]bool)}
}

// TryLock 尝试获取锁
func (l *LocalLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

// Unlock 释放锁
func (l *LocalLock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// Refresh 进程内锁不过期
func (l *LocalLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held[key] {
		return fmt.Errorf("锁 %s 未被持有", key)
	}
	return nil
}

// RedisOptions Redis 连接配置
type RedisOptions struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedisOptionsFromEnv 从 REDIS_HOST/REDIS_PORT/REDIS_PASSWORD/REDIS_DB 读取配置
func RedisOptionsFromEnv() RedisOptions {
	return RedisOptions{
		Host:     getEnvWithDefault("REDIS_HOST", "localhost"),
		Port:     getEnvWithDefault("REDIS_PORT", "6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       cast.ToInt(os.Getenv("REDIS_DB")),
	}
}

// RedisLock Redis 运行锁
type RedisLock struct {
	client     *redis.Client
	instanceID string // 锁持有者标识
}

// NewRedisLock 连接 Redis 并创建运行锁
func NewRedisLock(opts RedisOptions) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", opts.Host, opts.Port),
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	hostname, _ := os.Hostname()
	instanceID := fmt.Sprintf("%s:%d", hostname, os.Getpid())
	slog.Info("Redis运行锁初始化成功", "instance_id", instanceID, "redis_host", opts.Host, "redis_port", opts.Port)

	return NewRedisLockWithClient(client, instanceID), nil
}

// NewRedisLockWithClient 使用已有客户端创建运行锁
func NewRedisLockWithClient(client *redis.Client, instanceID string) *RedisLock {
	return &RedisLock{client: client, instanceID: instanceID}
}

var unlockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var refreshScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// TryLock 尝试获取锁
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, keyPrefix+key, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	if ok {
		slog.Debug("运行锁: 成功获取锁", "key", key, "ttl", ttl, "instance", r.instanceID)
	}
	return ok, nil
}

// Unlock 释放锁，只有持有者可以释放
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	n, err := unlockScript.Run(ctx, r.client, []string{keyPrefix + key}, r.instanceID).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if n == 0 {
		slog.Warn("运行锁: 锁不存在或已被其他实例持有", "key", key, "instance", r.instanceID)
	}
	return nil
}

// Refresh 刷新锁的过期时间
func (r *RedisLock) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, r.client, []string{keyPrefix + key}, r.instanceID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("刷新锁失败: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("锁不存在或已被其他实例持有")
	}
	return nil
}

// Close 关闭 Redis 客户端
func (r *RedisLock) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Executor 带锁执行器
type Executor struct {
	lock            Lock
	ttl             time.Duration
	refreshInterval time.Duration
}

// NewExecutor 创建带锁执行器，refreshInterval 为 0 时不自动续期
func NewExecutor(lock Lock, ttl, refreshInterval time.Duration) *Executor {
	return &Executor{lock: lock, ttl: ttl, refreshInterval: refreshInterval}
}

// Execute 在锁保护下执行 fn，锁被持有时返回 ErrLockHeld
func (e *Executor) Execute(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	locked, err := e.lock.TryLock(ctx, key, e.ttl)
	if err != nil {
		return err
	}
	if !locked {
		return ErrLockHeld
	}

	// 释放锁不受运行上下文取消影响
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := e.lock.Unlock(unlockCtx, key); err != nil {
			slog.Error("运行锁: 释放锁失败", "key", key, "error", err)
		}
	}()

	if e.refreshInterval > 0 {
		refreshCtx, stop := context.WithCancel(ctx)
		defer stop()
		go e.keepAlive(refreshCtx, key)
	}

	return fn(ctx)
}

func (e *Executor) keepAlive(ctx context.Context, key string) {
	ticker := time.NewTicker(e.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.lock.Refresh(ctx, key, e.ttl); err != nil {
				slog.Error("运行锁: 续期失败", "key", key, "error", err)
			}
		}
	}
}
