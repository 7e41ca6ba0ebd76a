package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"dataquality-service/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func webhookNotification() Notification {
	settings := config.Default()
	alert := Open(Breach{
		Dataset: config.DatasetSales, Source: config.RuleOrphanRate,
		Measured: 20, Threshold: 1, Deviation: 20,
	}, &settings.Alerting, testutil.FixedNow)
	return Notification{
		Event:      models.AlertEventOpened,
		RunID:      "run-7",
		Alert:      alert,
		Recipients: []string{"CDO"},
		SentAt:     testutil.FixedNow,
	}
}

func TestWebhookNotifier_Notify(t *testing.T) {
	var (
		method      string
		contentType string
		received    Notification
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		contentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	n := webhookNotification()
	notifier := NewWebhookNotifier(server.URL, time.Second)
	require.NoError(t, notifier.Notify(context.Background(), n))

	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, "opened", received.Event)
	assert.Equal(t, "run-7", received.RunID)
	assert.Equal(t, n.Alert.ID, received.Alert.ID)
	assert.Equal(t, config.DatasetSales, received.Alert.Dataset)
	assert.Equal(t, models.SeverityCritical, received.Alert.Severity)
	assert.Equal(t, []string{"CDO"}, received.Recipients)
}

func TestWebhookNotifier_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr string
	}{
		{"服务端错误", http.StatusInternalServerError, "告警接收方返回状态码 500"},
		{"重定向视为失败", http.StatusNotModified, "告警接收方返回状态码 304"},
		{"请求非法", http.StatusBadRequest, "告警接收方返回状态码 400"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			err := NewWebhookNotifier(server.URL, time.Second).Notify(context.Background(), webhookNotification())
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()
	err := NewWebhookNotifier(url, time.Second).Notify(context.Background(), webhookNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "发送告警请求失败")
}
