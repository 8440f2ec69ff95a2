package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir    string `toml:"data_dir"`
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Workflow contains coordinator timing, retry, and progress settings.
type Workflow struct {
	QueuePollInterval      int                `toml:"queue_poll_interval"`
	LeaseGraceSeconds      int                `toml:"lease_grace_seconds"`
	MaxAttempts            int                `toml:"max_attempts"`
	RetryBackoffSeconds    int                `toml:"retry_backoff_seconds"`
	RetryBackoffMaxSeconds int                `toml:"retry_backoff_max_seconds"`
	ReconcileInterval      int                `toml:"reconcile_interval"`
	ReconcileBatchSize     int                `toml:"reconcile_batch_size"`
	StagingRetentionHours  int                `toml:"staging_retention_hours"`
	StageTimeouts          map[string]int     `toml:"stage_timeouts"`
	ProgressWeights        map[string]float64 `toml:"progress_weights"`
	TitlePlaceholder       string             `toml:"title_placeholder"`
}

// Workers names the stage handlers active in this process instance and the
// concurrency of each tier.
type Workers struct {
	Stages           []string `toml:"stages"`
	HeavyConcurrency int      `toml:"heavy_concurrency"`
	LightConcurrency int      `toml:"light_concurrency"`
	HeavyIsolation   string   `toml:"heavy_isolation"`
}

// CompressionTier maps a minimum input size to an encoder and quality.
type CompressionTier struct {
	MinSizeMB int    `toml:"min_size_mb"`
	Encoder   string `toml:"encoder"`
	Quality   int    `toml:"quality"`
	MaxHeight int    `toml:"max_height"`
	Preset    string `toml:"preset"`
}

// Compression contains the video compression policy.
type Compression struct {
	CopyBelowMB    int               `toml:"copy_below_mb"`
	Tiers          []CompressionTier `toml:"tiers"`
	MinFreeSpaceMB int               `toml:"min_free_space_mb"`
	AudioBitrate   string            `toml:"audio_bitrate"`
}

// Audio contains extraction and segmentation settings.
type Audio struct {
	SampleRate             int `toml:"sample_rate"`
	Channels               int `toml:"channels"`
	SegmentSeconds         int `toml:"segment_seconds"`
	SegmentationThresholdS int `toml:"segmentation_threshold_seconds"`
}

// Transcription contains WhisperX execution settings.
type Transcription struct {
	Model       string `toml:"model"`
	Language    string `toml:"language"`
	CUDAEnabled bool   `toml:"cuda_enabled"`
	VADMethod   string `toml:"vad_method"`
	HuggingFace string `toml:"hf_token"`
}

// LLM contains shared LLM connection settings used by the analysis stages.
type LLM struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	Referer        string `toml:"referer"`
	Title          string `toml:"title"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxTags        int    `toml:"max_tags"`
}

// Embedding contains embedding endpoint settings.
type Embedding struct {
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	APIKey     string `toml:"api_key"`
	Dimensions int    `toml:"dimensions"`
}

// Storage selects where processed artifacts are archived.
type Storage struct {
	Backend        string `toml:"backend"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	Region         string `toml:"region"`
	Endpoint       string `toml:"endpoint"`
	AccessKeyID    string `toml:"access_key_id"`
	SecretKey      string `toml:"secret_access_key"`
	UsePathStyle   bool   `toml:"use_path_style"`
	KeepLocalCopy  bool   `toml:"keep_local_copy"`
	ArchiveDir     string `toml:"archive_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Bus contains the optional NATS wakeup channel.
type Bus struct {
	Enabled       bool   `toml:"enabled"`
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Completed      bool   `toml:"completed"`
	Failures       bool   `toml:"failures"`
}

// Metrics controls Prometheus exposition on the API server.
type Metrics struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for mediaflow.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Workflow: retry budget, timeouts, progress weights, reconciliation
//   - Workers: active stage handlers and tier concurrency
//   - Compression: size-tier video compression policy
//   - Audio: extraction and segmentation
//   - Transcription: WhisperX settings
//   - LLM / Embedding: analysis providers
//   - Storage: local or S3 archival
//   - Bus: optional NATS wakeups
//   - Notifications: ntfy push notifications for terminal processes
//   - Metrics / Logging: observability
type Config struct {
	Paths         Paths         `toml:"paths"`
	Workflow      Workflow      `toml:"workflow"`
	Workers       Workers       `toml:"workers"`
	Compression   Compression   `toml:"compression"`
	Audio         Audio         `toml:"audio"`
	Transcription Transcription `toml:"transcription"`
	LLM           LLM           `toml:"llm"`
	Embedding     Embedding     `toml:"embedding"`
	Storage       Storage       `toml:"storage"`
	Bus           Bus           `toml:"bus"`
	Notifications Notifications `toml:"notifications"`
	Metrics       Metrics       `toml:"metrics"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/mediaflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. A .env file in the working directory is
// loaded first so environment fallbacks can come from it.
func Load(path string) (*Config, string, bool, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", false, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.LogDir}
	if c.Storage.Backend == StorageLocal {
		dirs = append(dirs, c.Storage.ArchiveDir)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite file backing the document store and job queue.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "mediaflow.db")
}

// LogPath returns the daemon log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "mediaflow.log")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "mediaflow.lock")
}

// FFmpegBinary returns the ffmpeg executable name used by the media stages.
func (c *Config) FFmpegBinary() string {
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	return "ffprobe"
}

// StageTimeout returns the execution deadline for a stage, falling back to the
// default when no override exists.
func (c *Config) StageTimeout(stage string) time.Duration {
	if seconds, ok := c.Workflow.StageTimeouts[stage]; ok && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return time.Duration(defaultStageTimeoutSeconds) * time.Second
}

// LeaseDuration returns how long a claimed job of the given stage is reserved
// before another worker may reclaim it.
func (c *Config) LeaseDuration(stage string) time.Duration {
	return c.StageTimeout(stage) + time.Duration(c.Workflow.LeaseGraceSeconds)*time.Second
}

// RetryBackoff returns the delay before the given attempt (1-based) is retried.
func (c *Config) RetryBackoff(attempt int) time.Duration {
	base := time.Duration(c.Workflow.RetryBackoffSeconds) * time.Second
	limit := time.Duration(c.Workflow.RetryBackoffMaxSeconds) * time.Second
	delay := base
	for i := 1; i < attempt && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	return delay
}

// PollInterval returns how often idle workers poll the queue.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Workflow.QueuePollInterval) * time.Second
}

// StagingRetention is how long an orphaned staging directory is kept.
func (c *Config) StagingRetention() time.Duration {
	return time.Duration(c.Workflow.StagingRetentionHours) * time.Hour
}

// ReconcileInterval returns the reconciliation sweep period.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Workflow.ReconcileInterval) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
