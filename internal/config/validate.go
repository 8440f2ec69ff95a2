package config

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateCompression(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding.dimensions must be positive")
	}
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive")
	}
	if c.Bus.Enabled && strings.TrimSpace(c.Bus.URL) == "" {
		return errors.New("bus.url must be set when bus.enabled is true")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if err := ensurePositiveMap(map[string]int{
		"workflow.queue_poll_interval":       c.Workflow.QueuePollInterval,
		"workflow.max_attempts":              c.Workflow.MaxAttempts,
		"workflow.retry_backoff_seconds":     c.Workflow.RetryBackoffSeconds,
		"workflow.retry_backoff_max_seconds": c.Workflow.RetryBackoffMaxSeconds,
		"workflow.reconcile_interval":        c.Workflow.ReconcileInterval,
		"workflow.reconcile_batch_size":      c.Workflow.ReconcileBatchSize,
		"workflow.staging_retention_hours":   c.Workflow.StagingRetentionHours,
	}); err != nil {
		return err
	}
	if c.Workflow.LeaseGraceSeconds < 0 {
		return errors.New("workflow.lease_grace_seconds must be >= 0")
	}
	if c.Workflow.RetryBackoffMaxSeconds < c.Workflow.RetryBackoffSeconds {
		return errors.New("workflow.retry_backoff_max_seconds must be >= workflow.retry_backoff_seconds")
	}
	for stage, seconds := range c.Workflow.StageTimeouts {
		if !slices.Contains(AllStages, stage) {
			return fmt.Errorf("workflow.stage_timeouts: unknown stage %q", stage)
		}
		if seconds <= 0 {
			return fmt.Errorf("workflow.stage_timeouts.%s must be positive", stage)
		}
	}
	var total float64
	for _, stage := range AllStages {
		weight, ok := c.Workflow.ProgressWeights[stage]
		if !ok {
			return fmt.Errorf("workflow.progress_weights.%s must be set", stage)
		}
		if weight < 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
			return fmt.Errorf("workflow.progress_weights.%s must be a non-negative number", stage)
		}
		total += weight
	}
	for stage := range c.Workflow.ProgressWeights {
		if !slices.Contains(AllStages, stage) {
			return fmt.Errorf("workflow.progress_weights: unknown stage %q", stage)
		}
	}
	if math.Abs(total-100) > 1e-6 {
		return fmt.Errorf("workflow.progress_weights must sum to 100 (got %g)", total)
	}
	return nil
}

func (c *Config) validateWorkers() error {
	for _, stage := range c.Workers.Stages {
		if !slices.Contains(AllStages, stage) {
			return fmt.Errorf("workers.stages: unknown stage %q", stage)
		}
	}
	if c.Workers.HeavyConcurrency < 0 {
		return errors.New("workers.heavy_concurrency must be >= 0")
	}
	if c.Workers.LightConcurrency <= 0 {
		return errors.New("workers.light_concurrency must be positive")
	}
	switch c.Workers.HeavyIsolation {
	case HeavyIsolationProcess, HeavyIsolationInline:
	default:
		return fmt.Errorf("workers.heavy_isolation must be %q or %q", HeavyIsolationProcess, HeavyIsolationInline)
	}
	return nil
}

func (c *Config) validateCompression() error {
	if c.Compression.CopyBelowMB < 0 {
		return errors.New("compression.copy_below_mb must be >= 0")
	}
	if c.Compression.MinFreeSpaceMB < 0 {
		return errors.New("compression.min_free_space_mb must be >= 0")
	}
	if len(c.Compression.Tiers) == 0 {
		return errors.New("compression.tiers must include at least one tier")
	}
	prev := -1
	for idx, tier := range c.Compression.Tiers {
		if tier.MinSizeMB <= prev {
			return fmt.Errorf("compression.tiers[%d].min_size_mb must be strictly increasing", idx)
		}
		prev = tier.MinSizeMB
		if strings.TrimSpace(tier.Encoder) == "" {
			return fmt.Errorf("compression.tiers[%d].encoder must be set", idx)
		}
		if tier.Quality <= 0 {
			return fmt.Errorf("compression.tiers[%d].quality must be positive", idx)
		}
		if tier.MaxHeight < 0 {
			return fmt.Errorf("compression.tiers[%d].max_height must be >= 0", idx)
		}
	}
	return nil
}

func (c *Config) validateAudio() error {
	return ensurePositiveMap(map[string]int{
		"audio.sample_rate":                    c.Audio.SampleRate,
		"audio.channels":                       c.Audio.Channels,
		"audio.segment_seconds":                c.Audio.SegmentSeconds,
		"audio.segmentation_threshold_seconds": c.Audio.SegmentationThresholdS,
	})
}

func (c *Config) validateStorage() error {
	switch c.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(c.Storage.ArchiveDir) == "" {
			return errors.New("storage.archive_dir must be set when storage.backend is local")
		}
	case StorageS3:
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket must be set when storage.backend is s3")
		}
		if c.Storage.Region == "" {
			return errors.New("storage.region must be set when storage.backend is s3 (or set AWS_REGION)")
		}
	default:
		return fmt.Errorf("storage.backend must be %q or %q", StorageLocal, StorageS3)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
