package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad(t *testing.T) {
	// 保存原始环境变量
	originalEnvs := make(map[string]string)
	envKeys := []string{
		"TEMPCODE_SERVER_HOST",
		"TEMPCODE_SERVER_PORT",
		"TEMPCODE_MAILBOX_ALLOWED_DOMAINS",
		"TEMPCODE_MAILBOX_DEFAULT_TTL",
		"TEMPCODE_MAILBOX_CLEANUP_GRACE",
		"TEMPCODE_ADMIN_API_BASE_URL",
		"TEMPCODE_ADMIN_API_TIMEOUT",
		"TEMPCODE_SCHEDULER_SCAN_INTERVAL",
		"TEMPCODE_SCHEDULER_SCAN_CONCURRENCY",
		"TEMPCODE_LOG_LEVEL",
	}

	for _, key := range envKeys {
		originalEnvs[key] = os.Getenv(key)
	}

	// 测试后恢复环境变量
	defer func() {
		for key, value := range originalEnvs {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	}()

	t.Run("加载默认配置成功", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		cfg, err := Load()

		assert.NoError(t, err)
		assert.NotNil(t, cfg)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, []string{"temp.mail"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, 24*time.Hour, cfg.Mailbox.DefaultTTL)
		assert.Equal(t, 24*time.Hour, cfg.Mailbox.CleanupGrace)
		assert.Equal(t, time.Hour, cfg.Mailbox.CodeCacheTTL)
		assert.Equal(t, 10*time.Second, cfg.AdminAPI.Timeout)
		assert.Equal(t, 30*time.Second, cfg.Scheduler.ScanInterval)
		assert.Equal(t, 5*time.Minute, cfg.Scheduler.SyncInterval)
		assert.Equal(t, 24*time.Hour, cfg.Scheduler.CleanupInterval)
		assert.Equal(t, 8, cfg.Scheduler.ScanConcurrency)
	})

	t.Run("环境变量覆盖默认值", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}

		os.Setenv("TEMPCODE_MAILBOX_ALLOWED_DOMAINS", "a.test, B.Test")
		os.Setenv("TEMPCODE_SCHEDULER_SCAN_INTERVAL", "10s")
		os.Setenv("TEMPCODE_ADMIN_API_BASE_URL", "https://mail.a.test/api/v1/")

		cfg, err := Load()

		assert.NoError(t, err)
		assert.Equal(t, []string{"a.test", "b.test"}, cfg.Mailbox.AllowedDomains)
		assert.Equal(t, 10*time.Second, cfg.Scheduler.ScanInterval)
		// 末尾斜杠被归一化
		assert.Equal(t, "https://mail.a.test/api/v1", cfg.AdminAPI.BaseURL)
	})

	t.Run("非法TTL返回错误", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("TEMPCODE_MAILBOX_DEFAULT_TTL", "not-a-duration")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("非法扫描间隔回退默认值", func(t *testing.T) {
		for _, key := range envKeys {
			os.Unsetenv(key)
		}
		os.Setenv("TEMPCODE_SCHEDULER_SCAN_INTERVAL", "oops")

		cfg, err := Load()
		assert.NoError(t, err)
		assert.Equal(t, 30*time.Second, cfg.Scheduler.ScanInterval)
	})
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseList(" a , b ,"))
	assert.Empty(t, parseList("  "))
}
