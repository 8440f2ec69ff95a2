package config

const (
	defaultDataDir                = "~/.local/share/mediaflow"
	defaultStagingDir             = "~/.local/share/mediaflow/staging"
	defaultOutputDir              = "~/.local/share/mediaflow/output"
	defaultLogDir                 = "~/.local/share/mediaflow/logs"
	defaultArchiveDir             = "~/.local/share/mediaflow/archive"
	defaultAPIBind                = "127.0.0.1:7587"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultStageTimeoutSeconds    = 900
	defaultMaxAttempts            = 3
	defaultTitlePlaceholder       = "Untitled"
	defaultLLMBaseURL             = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel               = "google/gemini-3-flash-preview"
	defaultLLMReferer             = "https://github.com/mediaflow/mediaflow"
	defaultLLMTitle               = "mediaflow"
	defaultLLMTimeoutSeconds      = 60
	defaultLLMMaxTags             = 12
	defaultEmbeddingBaseURL       = "https://openrouter.ai/api/v1/embeddings"
	defaultEmbeddingModel         = "openai/text-embedding-3-small"
	defaultEmbeddingDimensions    = 1536
	defaultWhisperXModel          = "large-v3"
	defaultVADMethod              = "silero"
	defaultStorageTimeoutSeconds  = 600
	defaultNtfyRequestTimeout     = 10
	defaultBusURL                 = "nats://127.0.0.1:4222"
	defaultBusSubjectPrefix       = "mediaflow.jobs"
	defaultMetricsNamespace       = "mediaflow"
	defaultHeavyIsolation         = HeavyIsolationProcess
	defaultMaxLightConcurrency    = 4
	defaultCopyBelowMB            = 50
	defaultMinFreeSpaceMB         = 1024
	defaultAudioBitrate           = "128k"
	defaultAudioSampleRate        = 16000
	defaultAudioChannels          = 1
	defaultSegmentSeconds         = 600
	defaultSegmentationThresholdS = 600
)

const (
	// StorageLocal archives processed files under Storage.ArchiveDir.
	StorageLocal = "local"
	// StorageS3 archives processed files to an S3-compatible bucket.
	StorageS3 = "s3"

	// HeavyIsolationProcess runs each heavy job in a child process.
	HeavyIsolationProcess = "process"
	// HeavyIsolationInline runs heavy jobs in-process; intended for tests and development.
	HeavyIsolationInline = "inline"
)

// AllStages lists every stage handler name in pipeline order.
var AllStages = []string{
	"compress-video",
	"extract-audio",
	"segment-audio",
	"transcribe-segment",
	"generate-tags",
	"generate-title",
	"generate-todo",
	"generate-embedding",
	"upload-remote",
	"finalize",
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			OutputDir:  defaultOutputDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Workflow: Workflow{
			QueuePollInterval:      2,
			LeaseGraceSeconds:      60,
			MaxAttempts:            defaultMaxAttempts,
			RetryBackoffSeconds:    5,
			RetryBackoffMaxSeconds: 60,
			ReconcileInterval:      60,
			ReconcileBatchSize:     100,
			StagingRetentionHours:  24,
			StageTimeouts: map[string]int{
				"compress-video":     3600,
				"extract-audio":      1800,
				"segment-audio":      600,
				"transcribe-segment": 1800,
				"generate-tags":      300,
				"generate-title":     300,
				"generate-todo":      300,
				"generate-embedding": 300,
				"upload-remote":      1800,
				"finalize":           300,
			},
			ProgressWeights: map[string]float64{
				"compress-video":     15,
				"extract-audio":      10,
				"segment-audio":      5,
				"transcribe-segment": 30,
				"generate-tags":      5,
				"generate-title":     5,
				"generate-todo":      5,
				"generate-embedding": 5,
				"upload-remote":      10,
				"finalize":           10,
			},
			TitlePlaceholder: defaultTitlePlaceholder,
		},
		Workers: Workers{
			Stages:           append([]string(nil), AllStages...),
			HeavyConcurrency: 1,
			HeavyIsolation:   defaultHeavyIsolation,
		},
		Compression: Compression{
			CopyBelowMB: defaultCopyBelowMB,
			Tiers: []CompressionTier{
				{MinSizeMB: 50, Encoder: "libx264", Quality: 23, MaxHeight: 1080, Preset: "medium"},
				{MinSizeMB: 500, Encoder: "libx264", Quality: 26, MaxHeight: 1080, Preset: "medium"},
				{MinSizeMB: 2000, Encoder: "libx265", Quality: 28, MaxHeight: 720, Preset: "fast"},
			},
			MinFreeSpaceMB: defaultMinFreeSpaceMB,
			AudioBitrate:   defaultAudioBitrate,
		},
		Audio: Audio{
			SampleRate:             defaultAudioSampleRate,
			Channels:               defaultAudioChannels,
			SegmentSeconds:         defaultSegmentSeconds,
			SegmentationThresholdS: defaultSegmentationThresholdS,
		},
		Transcription: Transcription{
			Model:     defaultWhisperXModel,
			VADMethod: defaultVADMethod,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			MaxTags:        defaultLLMMaxTags,
		},
		Embedding: Embedding{
			BaseURL:    defaultEmbeddingBaseURL,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Storage: Storage{
			Backend:        StorageLocal,
			ArchiveDir:     defaultArchiveDir,
			TimeoutSeconds: defaultStorageTimeoutSeconds,
		},
		Bus: Bus{
			URL:           defaultBusURL,
			SubjectPrefix: defaultBusSubjectPrefix,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyRequestTimeout,
			Completed:      true,
			Failures:       true,
		},
		Metrics: Metrics{
			Enabled:   true,
			Namespace: defaultMetricsNamespace,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
