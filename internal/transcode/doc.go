// Package transcode implements the compress-video stage.
//
// The handler probes the original upload, chooses between a stream copy and
// a size-tiered re-encode, checks free space on the staging volume, and
// publishes the MP4 only after ffmpeg exits cleanly and the output probes as
// playable video.
package transcode
