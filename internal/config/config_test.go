package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  port: "9090"
database:
  driver: "mysql"
  dsn: "user:pass@tcp(localhost:3306)/nutri?parseTime=true"
jwt:
  secret: "s3cret"
kafka:
  brokers: "kafka:9092"
storage:
  provider: "s3"
  bucket_name: "uploads"
  presign_expiry: 15m
inference:
  provider: "bedrock"
  model: "anthropic.claude-3-sonnet-20240229-v1:0"
  timeout: 45s
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_FileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "s3", cfg.Storage.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Storage.PresignExpiry)
	assert.Equal(t, 45*time.Second, cfg.Inference.Timeout)

	// defaults
	assert.Equal(t, 0.1, cfg.Inference.Temperature)
	assert.Equal(t, 3, cfg.Kafka.MaxAttempts)
	assert.Equal(t, "nutrition-uploads", cfg.Kafka.Topic)
	assert.Equal(t, 10*time.Minute, cfg.Reaper.ProcessingTimeout)
	assert.False(t, cfg.Elasticsearch.Enabled)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("NUTRI_DATABASE_DSN", "postgres://override")
	t.Setenv("NUTRI_SERVER_PORT", "7000")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "postgres://override", cfg.Database.DSN)
	assert.Equal(t, "7000", cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "database.driver"},
		{name: "no dsn", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: "database.dsn"},
		{name: "no secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: "jwt.secret"},
		{name: "bad storage", mutate: func(c *Config) { c.Storage.Provider = "gcs" }, wantErr: "storage.provider"},
		{name: "no bucket", mutate: func(c *Config) { c.Storage.BucketName = "" }, wantErr: "storage.bucket_name"},
		{name: "bad inference", mutate: func(c *Config) { c.Inference.Provider = "local" }, wantErr: "inference.provider"},
		{name: "zero timeout", mutate: func(c *Config) { c.Inference.Timeout = 0 }, wantErr: "inference.timeout"},
		{name: "no brokers", mutate: func(c *Config) { c.Kafka.Brokers = "" }, wantErr: "kafka.brokers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{
				Database:  DatabaseConfig{Driver: "postgres", DSN: "dsn"},
				JWT:       JWTConfig{Secret: "s"},
				Kafka:     KafkaConfig{Brokers: "b"},
				Storage:   StorageConfig{Provider: "minio", BucketName: "b"},
				Inference: InferenceConfig{Provider: "openai", Timeout: time.Second},
			}
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
