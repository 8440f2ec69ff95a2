package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempPath is the hidden sibling a stage writes before publishing final.
func TempPath(final string) string {
	dir, base := filepath.Split(final)
	return filepath.Join(dir, "."+base+".partial")
}

// Publish fsyncs tmp and renames it onto final. Readers see either the old
// artifact or the complete new one.
func Publish(tmp, final string) error {
	f, err := os.OpenFile(tmp, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open temp artifact: %w", err)
	}
	syncErr := f.Sync()
	closeErr := f.Close()
	if syncErr != nil {
		return fmt.Errorf("sync temp artifact: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close temp artifact: %w", closeErr)
	}
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish artifact: %w", err)
	}
	return nil
}

// CopyAtomic copies src to dst through TempPath(dst). The copy is re-read
// and compared by SHA-256 before it is published; on any failure dst is
// left untouched and the temp file removed.
func CopyAtomic(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := TempPath(dst)
	err := copyVerified(src, tmp)
	if err == nil {
		err = Publish(tmp, dst)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	return err
}

func copyVerified(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	want := sha256.New()
	if _, err := io.Copy(out, io.TeeReader(in, want)); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	got, err := digest(dst)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want.Sum(nil)) {
		return fmt.Errorf("copy of %s corrupted: checksum mismatch", src)
	}
	return nil
}

func digest(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
