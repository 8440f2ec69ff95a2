// Package staging inspects and prunes the per-process working directories
// under paths.staging_dir.
package staging
