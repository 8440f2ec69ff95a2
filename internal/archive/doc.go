// Package archive implements the upload-remote and finalize stages.
//
// upload-remote stores the compressed video through an objectstore backend
// and verifies the stored size. finalize re-verifies the archived artifact,
// publishes the local deliverable when one is kept, and removes the
// process staging directory.
package archive
