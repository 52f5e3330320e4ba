package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sendflow/core/message"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "sendflow", cfg.Namespace)
	assert.Equal(t, 10*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Lock.HoldTimeout)
	assert.Equal(t, 2*time.Second, cfg.Provider.Timeout)
	assert.True(t, cfg.Delay.Enabled)
}

func TestDelayTTL(t *testing.T) {
	delay := Default().Delay
	assert.Equal(t, 60*time.Second, delay.TTL(message.ChannelEmail))
	assert.Equal(t, 30*time.Second, delay.TTL(message.ChannelSMS))
	assert.Equal(t, 30*time.Second, delay.TTL(message.ChannelDingTalkRobot))
	assert.Equal(t, 30*time.Second, delay.TTL(message.ChannelFeishuRobot))
	assert.Equal(t, 30*time.Second, delay.TTL(message.Channel(99)), "unknown channels get the conservative default")
}

func TestLoad(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, Default().Namespace, cfg.Namespace)
		assert.Equal(t, Default().RabbitMQ.Exchange, cfg.RabbitMQ.Exchange)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		dir := t.TempDir()
		content := []byte("namespace: custom\nlock:\n  wait_timeout: 3s\ndelay:\n  sms: 45s\n")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

		cfg, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, "custom", cfg.Namespace)
		assert.Equal(t, 3*time.Second, cfg.Lock.WaitTimeout)
		assert.Equal(t, 45*time.Second, cfg.Delay.SMS)
		assert.Equal(t, Default().Delay.Email, cfg.Delay.Email, "unset keys keep their defaults")
	})
}
