/*
 * @module service/config/loader
 * @description 配置加载：默认配置 -> YAML 文件覆盖 -> 环境变量覆盖 -> 校验
 * @architecture 分层架构 - 配置层
 * @documentReference DESIGN.md
 * @stateFlow Load(path) -> yaml 解码 -> ApplyEnv -> Validate
 * @rules 加载失败或校验失败均返回 ConfigurationError，调用方在处理任何数据集前终止
 * @dependencies gopkg.in/yaml.v3, github.com/spf13/cast
 * @refs service/config/validate.go
 */

package config

import (
	"fmt"
	"os"
	"strings"

	"dataquality-service/service/models"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// 环境变量
const (
	EnvDataDir            = "DQ_DATA_DIR"
	EnvSchedule           = "DQ_SCHEDULE"
	EnvAggregateThreshold = "DQ_AGGREGATE_THRESHOLD"
	EnvThresholdPrefix    = "DQ_THRESHOLD_"
)

// Load 加载配置文件，path 为空时使用默认配置
func Load(path string) (*Settings, error) {
	settings := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &models.ConfigurationError{Problems: []string{fmt.Sprintf("读取配置文件失败: %v", err)}}
		}
		if err := Parse(data, settings); err != nil {
			return nil, err
		}
	}
	if err := ApplyEnv(settings, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Parse 将 YAML 内容解码到已有配置上，文件中出现的字段覆盖原值
func Parse(data []byte, settings *Settings) error {
	if err := yaml.Unmarshal(data, settings); err != nil {
		return &models.ConfigurationError{Problems: []string{fmt.Sprintf("解析配置文件失败: %v", err)}}
	}
	return nil
}

// ApplyEnv 应用环境变量覆盖，lookup 通常为 os.LookupEnv
func ApplyEnv(settings *Settings, lookup func(string) (string, bool)) error {
	var problems []string

	if v, ok := lookup(EnvDataDir); ok && v != "" {
		settings.Ingestion.DataDir = v
	}
	if v, ok := lookup(EnvSchedule); ok {
		settings.Schedule = v
	}
	if v, ok := lookup(EnvAggregateThreshold); ok && v != "" {
		f, err := cast.ToFloat64E(strings.TrimSpace(v))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s 不是数值: %q", EnvAggregateThreshold, v))
		} else {
			settings.Alerting.AggregateThreshold = f
		}
	}
	for _, d := range models.AllDimensions {
		key := EnvThresholdPrefix + strings.ToUpper(string(d))
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		f, err := cast.ToFloat64E(strings.TrimSpace(v))
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s 不是数值: %q", key, v))
			continue
		}
		if settings.Alerting.Thresholds == nil {
			settings.Alerting.Thresholds = map[models.Dimension]float64{}
		}
		settings.Alerting.Thresholds[d] = f
	}

	if len(problems) > 0 {
		return &models.ConfigurationError{Problems: problems}
	}
	return nil
}
