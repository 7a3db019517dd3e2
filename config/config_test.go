package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MICROBLOG_CONFIG", writeConfig(t, "server:\n  port: 9090\n"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, 10, cfg.Feed.PostsPerPage)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.JWT.ResetTTL)
	assert.Equal(t, "http://localhost:8080", cfg.Server.PublicURL)
	assert.Empty(t, cfg.Search.ElasticsearchURL)
	// 未配置发件人时使用第一个管理员邮箱
	assert.Equal(t, "test@mail.com", cfg.Mail.Sender)
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("MICROBLOG_CONFIG", writeConfig(t, "jwt:\n  secret: from-file\n"))
	t.Setenv("SECRET_KEY", "from-env")
	t.Setenv("ELASTICSEARCH_URL", "http://es:9200")
	t.Setenv("MAIL_PORT", "2525")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Secret)
	assert.Equal(t, "http://es:9200", cfg.Search.ElasticsearchURL)
	assert.Equal(t, 2525, cfg.Mail.Port)
}

func TestLoadPrefixedEnv(t *testing.T) {
	t.Setenv("MICROBLOG_CONFIG", writeConfig(t, "feed:\n  posts_per_page: 5\n"))
	t.Setenv("MICROBLOG_FEED_POSTS_PER_PAGE", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Feed.PostsPerPage)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	t.Setenv("MICROBLOG_CONFIG", writeConfig(t, "feed:\n  posts_per_page: 0\n"))
	_, err := Load()
	assert.ErrorContains(t, err, "posts_per_page")

	t.Setenv("MICROBLOG_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Mode: "debug"},
			Database: DatabaseConfig{Driver: "postgres"},
			JWT:      JWTConfig{Secret: defaultSecret},
			Feed:     FeedConfig{PostsPerPage: 10},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero page size", func(c *Config) { c.Feed.PostsPerPage = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty secret", func(c *Config) { c.JWT.Secret = "" }},
		{"default secret in release", func(c *Config) { c.Server.Mode = "release" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Server.Mode = "release"
	c.JWT.Secret = "real-secret"
	assert.NoError(t, c.Validate())
}
