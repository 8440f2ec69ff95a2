package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeWorkflow()
	c.normalizeWorkers()
	c.normalizeTranscription()
	c.normalizeLLM()
	if err := c.normalizeStorage(); err != nil {
		return err
	}
	c.normalizeBus()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return fmt.Errorf("paths.staging_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(c.Paths.OutputDir); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeWorkflow() {
	defaults := Default().Workflow
	if c.Workflow.StageTimeouts == nil {
		c.Workflow.StageTimeouts = map[string]int{}
	}
	for stage, seconds := range defaults.StageTimeouts {
		if _, ok := c.Workflow.StageTimeouts[stage]; !ok {
			c.Workflow.StageTimeouts[stage] = seconds
		}
	}
	if len(c.Workflow.ProgressWeights) == 0 {
		c.Workflow.ProgressWeights = defaults.ProgressWeights
	}
	c.Workflow.TitlePlaceholder = strings.TrimSpace(c.Workflow.TitlePlaceholder)
	if c.Workflow.TitlePlaceholder == "" {
		c.Workflow.TitlePlaceholder = defaultTitlePlaceholder
	}
}

func (c *Config) normalizeWorkers() {
	stages := make([]string, 0, len(c.Workers.Stages))
	seen := make(map[string]struct{}, len(c.Workers.Stages))
	for _, stage := range c.Workers.Stages {
		normalized := strings.ToLower(strings.TrimSpace(stage))
		if normalized == "" {
			continue
		}
		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		stages = append(stages, normalized)
	}
	c.Workers.Stages = stages
	if c.Workers.LightConcurrency <= 0 {
		c.Workers.LightConcurrency = min(defaultMaxLightConcurrency, runtime.NumCPU())
	}
	c.Workers.HeavyIsolation = strings.ToLower(strings.TrimSpace(c.Workers.HeavyIsolation))
	if c.Workers.HeavyIsolation == "" {
		c.Workers.HeavyIsolation = defaultHeavyIsolation
	}
}

func (c *Config) normalizeTranscription() {
	c.Transcription.VADMethod = strings.ToLower(strings.TrimSpace(c.Transcription.VADMethod))
	if c.Transcription.VADMethod == "" {
		c.Transcription.VADMethod = defaultVADMethod
	}
	c.Transcription.Model = strings.TrimSpace(c.Transcription.Model)
	if c.Transcription.Model == "" {
		c.Transcription.Model = defaultWhisperXModel
	}
	c.Transcription.HuggingFace = strings.TrimSpace(c.Transcription.HuggingFace)
	if c.Transcription.HuggingFace == "" {
		if value, ok := os.LookupEnv("HUGGING_FACE_HUB_TOKEN"); ok {
			c.Transcription.HuggingFace = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("HF_TOKEN"); ok {
			c.Transcription.HuggingFace = strings.TrimSpace(value)
		}
	}
}

func (c *Config) normalizeLLM() {
	c.LLM.BaseURL = strings.TrimSpace(c.LLM.BaseURL)
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = defaultLLMBaseURL
	}
	c.LLM.Model = strings.TrimSpace(c.LLM.Model)
	if c.LLM.Model == "" {
		c.LLM.Model = defaultLLMModel
	}
	c.LLM.Referer = strings.TrimSpace(c.LLM.Referer)
	if c.LLM.Referer == "" {
		c.LLM.Referer = defaultLLMReferer
	}
	c.LLM.Title = strings.TrimSpace(c.LLM.Title)
	if c.LLM.Title == "" {
		c.LLM.Title = defaultLLMTitle
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}
	if c.LLM.MaxTags <= 0 {
		c.LLM.MaxTags = defaultLLMMaxTags
	}
	c.LLM.APIKey = strings.TrimSpace(c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		if value, ok := os.LookupEnv("MEDIAFLOW_LLM_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		} else if value, ok := os.LookupEnv("OPENROUTER_API_KEY"); ok {
			c.LLM.APIKey = strings.TrimSpace(value)
		}
	}

	c.Embedding.BaseURL = strings.TrimSpace(c.Embedding.BaseURL)
	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = defaultEmbeddingBaseURL
	}
	c.Embedding.Model = strings.TrimSpace(c.Embedding.Model)
	if c.Embedding.Model == "" {
		c.Embedding.Model = defaultEmbeddingModel
	}
	c.Embedding.APIKey = strings.TrimSpace(c.Embedding.APIKey)
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.LLM.APIKey
	}
	if c.Embedding.Dimensions <= 0 {
		c.Embedding.Dimensions = defaultEmbeddingDimensions
	}
}

func (c *Config) normalizeStorage() error {
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageLocal
	}
	if strings.TrimSpace(c.Storage.ArchiveDir) == "" {
		c.Storage.ArchiveDir = defaultArchiveDir
	}
	var err error
	if c.Storage.ArchiveDir, err = expandPath(c.Storage.ArchiveDir); err != nil {
		return fmt.Errorf("storage.archive_dir: %w", err)
	}
	c.Storage.Bucket = strings.TrimSpace(c.Storage.Bucket)
	c.Storage.Prefix = strings.Trim(strings.TrimSpace(c.Storage.Prefix), "/")
	c.Storage.Endpoint = strings.TrimSpace(c.Storage.Endpoint)
	c.Storage.Region = strings.TrimSpace(c.Storage.Region)
	if c.Storage.Region == "" {
		if value, ok := os.LookupEnv("AWS_REGION"); ok {
			c.Storage.Region = strings.TrimSpace(value)
		}
	}
	if c.Storage.AccessKeyID == "" {
		if value, ok := os.LookupEnv("AWS_ACCESS_KEY_ID"); ok {
			c.Storage.AccessKeyID = strings.TrimSpace(value)
		}
	}
	if c.Storage.SecretKey == "" {
		if value, ok := os.LookupEnv("AWS_SECRET_ACCESS_KEY"); ok {
			c.Storage.SecretKey = strings.TrimSpace(value)
		}
	}
	if c.Storage.TimeoutSeconds <= 0 {
		c.Storage.TimeoutSeconds = defaultStorageTimeoutSeconds
	}
	return nil
}

func (c *Config) normalizeBus() {
	if value, ok := os.LookupEnv("MEDIAFLOW_NATS_URL"); ok && strings.TrimSpace(value) != "" {
		c.Bus.URL = strings.TrimSpace(value)
		c.Bus.Enabled = true
	}
	c.Bus.URL = strings.TrimSpace(c.Bus.URL)
	if c.Bus.URL == "" {
		c.Bus.URL = defaultBusURL
	}
	c.Bus.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Bus.SubjectPrefix), ".")
	if c.Bus.SubjectPrefix == "" {
		c.Bus.SubjectPrefix = defaultBusSubjectPrefix
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	c.Metrics.Namespace = strings.TrimSpace(c.Metrics.Namespace)
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = defaultMetricsNamespace
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
