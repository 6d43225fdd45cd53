package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Queue    QueueConfig    `mapstructure:"queue"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Scoring  ScoringConfig  `mapstructure:"scoring"`
	Upload   UploadConfig   `mapstructure:"upload"`
	PDF      PDFConfig      `mapstructure:"pdf"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

type OSSConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	AccessKeySecret      string `mapstructure:"access_key_secret"`
	BucketName           string `mapstructure:"bucket_name"`
	PresignExpireSeconds int64  `mapstructure:"presign_expire_seconds"`
}

// QueueConfig 两级流水线的队列参数
type QueueConfig struct {
	ExtractionQueue       string `mapstructure:"extraction_queue"`
	AnalysisQueue         string `mapstructure:"analysis_queue"`
	ExtractionConcurrency int    `mapstructure:"extraction_concurrency"`
	AnalysisConcurrency   int    `mapstructure:"analysis_concurrency"`
	Attempts              int    `mapstructure:"attempts"`
	BackoffDelayMs        int    `mapstructure:"backoff_delay_ms"`
	KeepCompleted         int    `mapstructure:"keep_completed"`
	KeepFailed            int    `mapstructure:"keep_failed"`
	CompletedTTLHours     int    `mapstructure:"completed_ttl_hours"`
	FailedTTLHours        int    `mapstructure:"failed_ttl_hours"`
	CleanupIntervalMin    int    `mapstructure:"cleanup_interval_min"`
	PollIntervalMs        int    `mapstructure:"poll_interval_ms"`
	LockSeconds           int    `mapstructure:"lock_seconds"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// ScoringConfig 评分模型配置
type ScoringConfig struct {
	APIKey          string  `mapstructure:"api_key"`
	BaseURL         string  `mapstructure:"base_url"` // 为空时使用官方地址
	Model           string  `mapstructure:"model"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	TimeoutSeconds  int     `mapstructure:"timeout_seconds"`
	MaxInputChars   int     `mapstructure:"max_input_chars"`
}

type UploadConfig struct {
	MaxSize                int64    `mapstructure:"max_size"`                 // 最大文件大小（字节）
	AllowedMimeTypes       []string `mapstructure:"allowed_mime_types"`       // 允许的 MIME 类型
	DownloadTimeoutSeconds int      `mapstructure:"download_timeout_seconds"` // worker 拉取文件超时
}

type PDFConfig struct {
	LicenseKey string `mapstructure:"license_key"`
}

type LogConfig struct {
	JSON  bool `mapstructure:"json"`
	Debug bool `mapstructure:"debug"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.extraction_queue", "cv_extraction")
	v.SetDefault("queue.analysis_queue", "cv_analysis")
	v.SetDefault("queue.extraction_concurrency", 3)
	v.SetDefault("queue.analysis_concurrency", 2)
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_delay_ms", 2000)
	v.SetDefault("queue.keep_completed", 10)
	v.SetDefault("queue.keep_failed", 50)
	v.SetDefault("queue.completed_ttl_hours", 24)
	v.SetDefault("queue.failed_ttl_hours", 7*24)
	v.SetDefault("queue.cleanup_interval_min", 60)
	v.SetDefault("queue.poll_interval_ms", 1000)
	v.SetDefault("queue.lock_seconds", 60)
	v.SetDefault("oss.presign_expire_seconds", 3600)
	v.SetDefault("scoring.model", "gemini-2.0-flash")
	v.SetDefault("scoring.max_output_tokens", 2000)
	v.SetDefault("scoring.temperature", 0.3)
	v.SetDefault("scoring.timeout_seconds", 60)
	v.SetDefault("scoring.max_input_chars", 30000)
	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.allowed_mime_types", []string{"application/pdf"})
	v.SetDefault("upload.download_timeout_seconds", 30)
}

func Load(configPath string) (*Config, error) {
	// .env 仅用于本地开发，不存在时忽略
	_ = godotenv.Load()

	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 环境变量覆盖
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// BackoffDelay 首次重试的基础延迟
func (q QueueConfig) BackoffDelay() time.Duration {
	return time.Duration(q.BackoffDelayMs) * time.Millisecond
}

func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

func (q QueueConfig) LockDuration() time.Duration {
	return time.Duration(q.LockSeconds) * time.Second
}

func (q QueueConfig) CompletedTTL() time.Duration {
	return time.Duration(q.CompletedTTLHours) * time.Hour
}

func (q QueueConfig) FailedTTL() time.Duration {
	return time.Duration(q.FailedTTLHours) * time.Hour
}

func (q QueueConfig) CleanupInterval() time.Duration {
	return time.Duration(q.CleanupIntervalMin) * time.Minute
}

func (s ScoringConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (u UploadConfig) DownloadTimeout() time.Duration {
	return time.Duration(u.DownloadTimeoutSeconds) * time.Second
}

// IsAllowedMimeType 检查上传的 MIME 类型是否在白名单内
func (u UploadConfig) IsAllowedMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	for _, allowed := range u.AllowedMimeTypes {
		if strings.ToLower(allowed) == mimeType {
			return true
		}
	}
	return false
}
