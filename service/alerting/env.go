package alerting

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// 通知通道环境变量
const (
	EnvWebhookURL     = "ALERT_WEBHOOK_URL"
	EnvKafkaBrokers   = "ALERT_KAFKA_BROKERS"
	EnvKafkaTopic     = "ALERT_KAFKA_TOPIC"
	EnvMQTTBroker     = "ALERT_MQTT_BROKER"
	EnvMQTTPrefix     = "ALERT_MQTT_TOPIC_PREFIX"
	EnvNotifyTimeout  = "ALERT_NOTIFY_TIMEOUT"
	defaultKafkaTopic = "dataquality.alerts"
	defaultMQTTPrefix = "dataquality/alerts"
)

// NotifiersFromEnv 按环境变量创建通知通道，日志通道始终启用；返回需要在退出时关闭的通道
func NotifiersFromEnv(lookup func(string) (string, bool)) ([]Notifier, []io.Closer, error) {
	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	timeout := 5 * time.Second
	if v := get(EnvNotifyTimeout); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return nil, nil, fmt.Errorf("%s 不是合法时长: %q", EnvNotifyTimeout, v)
		}
		timeout = d
	}

	notifiers := []Notifier{LogNotifier{}}
	var closers []io.Closer

	if url := get(EnvWebhookURL); url != "" {
		notifiers = append(notifiers, NewWebhookNotifier(url, timeout))
	}

	if brokers := get(EnvKafkaBrokers); brokers != "" {
		topic := get(EnvKafkaTopic)
		if topic == "" {
			topic = defaultKafkaTopic
		}
		k := NewKafkaNotifier(strings.Split(brokers, ","), topic)
		notifiers = append(notifiers, k)
		closers = append(closers, k)
	}

	if broker := get(EnvMQTTBroker); broker != "" {
		prefix := get(EnvMQTTPrefix)
		if prefix == "" {
			prefix = defaultMQTTPrefix
		}
		hostname, _ := os.Hostname()
		m, err := NewMQTTNotifier(broker, fmt.Sprintf("dataquality-%s-%d", hostname, os.Getpid()), prefix, timeout)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return nil, nil, err
		}
		notifiers = append(notifiers, m)
		closers = append(closers, m)
	}

	names := make([]string, len(notifiers))
	for i, n := range notifiers {
		names[i] = n.Name()
	}
	slog.Info("告警通知通道已配置", "notifiers", names)
	return notifiers, closers, nil
}
