package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
}

func TestNotifiersFromEnv(t *testing.T) {
	notifiers, closers, err := NotifiersFromEnv(lookupFrom(nil))
	require.NoError(t, err)
	require.Len(t, notifiers, 1)
	assert.Equal(t, "log", notifiers[0].Name())
	assert.Empty(t, closers)

	notifiers, closers, err = NotifiersFromEnv(lookupFrom(map[string]string{
		EnvWebhookURL:   "http://hooks.local/dq",
		EnvKafkaBrokers: "k1:9092,k2:9092",
	}))
	require.NoError(t, err)
	names := []string{}
	for _, n := range notifiers {
		names = append(names, n.Name())
	}
	assert.Equal(t, []string{"log", "webhook", "kafka"}, names)
	require.Len(t, closers, 1)
	assert.NoError(t, closers[0].Close())

	_, _, err = NotifiersFromEnv(lookupFrom(map[string]string{EnvNotifyTimeout: "soon"}))
	assert.Error(t, err)
}
