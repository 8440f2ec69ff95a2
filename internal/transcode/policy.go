package transcode

import (
	"fmt"
	"slices"

	"mediaflow/internal/config"
	"mediaflow/internal/pipeline"
)

const bytesPerMB = 1024 * 1024

// Plan is the compression decision for one source file.
type Plan struct {
	Action string
	Tier   config.CompressionTier
	Reason string
}

// Choose picks the compression plan for a source of the given size. Files
// below CopyBelowMB are remuxed. Larger files use the tier with the highest
// MinSizeMB that does not exceed the source size.
func Choose(policy config.Compression, sourceSize int64) Plan {
	sizeMB := sourceSize / bytesPerMB
	if policy.CopyBelowMB > 0 && sizeMB < int64(policy.CopyBelowMB) {
		return Plan{
			Action: pipeline.VideoActionCopy,
			Reason: fmt.Sprintf("source %dMB below copy threshold %dMB", sizeMB, policy.CopyBelowMB),
		}
	}

	tiers := slices.Clone(policy.Tiers)
	slices.SortFunc(tiers, func(a, b config.CompressionTier) int { return b.MinSizeMB - a.MinSizeMB })
	for _, tier := range tiers {
		if int64(tier.MinSizeMB) <= sizeMB {
			return Plan{
				Action: pipeline.VideoActionTranscode,
				Tier:   tier,
				Reason: fmt.Sprintf("source %dMB in tier >=%dMB (%s q%d)", sizeMB, tier.MinSizeMB, tier.Encoder, tier.Quality),
			}
		}
	}
	if len(tiers) == 0 {
		return Plan{Action: pipeline.VideoActionCopy, Reason: "no compression tiers configured"}
	}
	// Sources smaller than every tier fall into the lowest one.
	lowest := tiers[len(tiers)-1]
	return Plan{
		Action: pipeline.VideoActionTranscode,
		Tier:   lowest,
		Reason: fmt.Sprintf("source %dMB below smallest tier, using >=%dMB (%s q%d)", sizeMB, lowest.MinSizeMB, lowest.Encoder, lowest.Quality),
	}
}
