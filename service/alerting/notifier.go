/*
 * @module service/alerting/notifier
 * @description 告警通知：日志、Webhook、Kafka、MQTT 多通道分发
 * @architecture 分层架构 - 集成层
 * @documentReference DESIGN.md
 * @stateFlow 告警状态迁移 -> Notification -> 各通道发送
 * @rules 通知失败只记录日志，不影响告警状态与历史
 * @dependencies log/slog, net/http, github.com/segmentio/kafka-go, github.com/eclipse/paho.mqtt.golang
 * @refs service/alerting/engine.go
 */

package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"
)

// Notification 一次状态迁移的通知内容
type Notification struct {
	Event      string    `json:"event"`
	RunID      string    `json:"run_id,omitempty"`
	Alert      Alert     `json:"alert"`
	Recipients []string  `json:"recipients"`
	SentAt     time.Time `json:"sent_at"`
}

// Notifier 告警通知通道
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier 以结构化日志输出告警
type LogNotifier struct{}

// Name 通道名称
func (LogNotifier) Name() string { return "log" }

// Notify 输出日志
func (LogNotifier) Notify(ctx context.Context, n Notification) error {
	level := slog.LevelInfo
	if n.Alert.Active() {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, n.Alert.Message,
		"event", n.Event,
		"alert_id", n.Alert.ID,
		"dataset", n.Alert.Dataset,
		"source", n.Alert.Source,
		"severity", n.Alert.Severity,
		"status", n.Alert.Status,
		"sla_deadline", n.Alert.Deadline,
		"recipients", n.Recipients)
	return nil
}

// WebhookNotifier 以 JSON POST 推送告警
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// NewWebhookNotifier 创建 Webhook 通道
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: &http.Client{Timeout: timeout}}
}

// Name 通道名称
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify 发送请求
func (w *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.Client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("告警接收方返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// KafkaNotifier 将告警写入 Kafka 主题，以告警键作为消息键
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier 创建 Kafka 通道
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}}
}

// Name 通道名称
func (k *KafkaNotifier) Name() string { return "kafka" }

// Notify 写入消息
func (k *KafkaNotifier) Notify(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.Alert.Key().String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(n.Event)},
			{Key: "severity", Value: []byte(n.Alert.Severity)},
		},
		Time: n.SentAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("写入Kafka失败: %w", err)
	}
	return nil
}

// Close 关闭生产者
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// MQTTNotifier 将告警发布到 MQTT 主题 <prefix>/<dataset>/<severity>
type MQTTNotifier struct {
	client mqtt.Client
	prefix string
	qos    byte
}

// NewMQTTNotifier 连接 broker 并创建 MQTT 通道
func NewMQTTNotifier(broker, clientID, prefix string, timeout time.Duration) (*MQTTNotifier, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetConnectTimeout(timeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("连接MQTT broker失败: %w", token.Error())
	}
	return &MQTTNotifier{client: client, prefix: prefix, qos: 1}, nil
}

// Name 通道名称
func (m *MQTTNotifier) Name() string { return "mqtt" }

// Notify 发布消息
func (m *MQTTNotifier) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}
	topic := fmt.Sprintf("%s/%s/%s", m.prefix, n.Alert.Dataset, n.Alert.Severity)
	token := m.client.Publish(topic, m.qos, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("发布MQTT消息失败: %w", token.Error())
	}
	return nil
}

// Close 断开连接
func (m *MQTTNotifier) Close() error {
	m.client.Disconnect(250)
	return nil
}
