// Package storage wraps blob buckets behind the small surface the
// orchestrator and workers need: listing input files, moving batch files in
// and out of a local working directory, and probing for existing outputs.
// Buckets are addressed by URL (s3://, gs://, file://, mem://), so tests and
// local runs use the same code path as production object stores.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

// Store is a handle to one bucket.
type Store struct {
	bucket *blob.Bucket
	url    string
}

// Open opens the bucket at the given URL.
func Open(ctx context.Context, bucketURL string) (*Store, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &Store{bucket: bucket, url: bucketURL}, nil
}

// URL returns the bucket URL this store was opened with.
func (s *Store) URL() string { return s.url }

// Close releases the bucket handle.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// ListFiles returns the names of all objects under prefix, relative to it,
// in lexical order. Pseudo-directory markers are skipped.
func (s *Store) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var files []string
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", s.url, err)
		}
		if obj.IsDir || strings.HasSuffix(obj.Key, "/") {
			continue
		}
		files = append(files, strings.TrimPrefix(obj.Key, prefix))
	}
	return files, nil
}

// Exists reports whether the object exists.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Attributes(ctx, key)
	if err == nil {
		return true, nil
	}
	if gcerrors.Code(err) == gcerrors.NotFound {
		return false, nil
	}
	return false, fmt.Errorf("stat %s in %s: %w", key, s.url, err)
}

// FilterProcessed drops input files that already have a matching output
// object, so a restarted job resumes where the previous run stopped.
func FilterProcessed(ctx context.Context, files []string, output *Store, outputPrefix string) ([]string, error) {
	remaining := make([]string, 0, len(files))
	for _, f := range files {
		done, err := output.Exists(ctx, path.Join(outputPrefix, f))
		if err != nil {
			return nil, err
		}
		if !done {
			remaining = append(remaining, f)
		}
	}
	return remaining, nil
}

// Download copies one object to a local file, creating parent directories.
func (s *Store) Download(ctx context.Context, key, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", dest, err)
	}

	r, err := s.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open %s in %s: %w", key, s.url, err)
	}
	defer r.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	return f.Close()
}

// Upload copies one local file into the bucket.
func (s *Store) Upload(ctx context.Context, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()

	w, err := s.bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("open writer %s in %s: %w", key, s.url, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return w.Close()
}

// DownloadAll fetches the named files under prefix into dir, preserving the
// file names.
func (s *Store) DownloadAll(ctx context.Context, prefix string, files []string, dir string) error {
	for _, f := range files {
		if err := s.Download(ctx, path.Join(prefix, f), filepath.Join(dir, f)); err != nil {
			return err
		}
	}
	return nil
}

// UploadDir uploads every regular file in dir under prefix, preserving
// relative paths.
func (s *Store) UploadDir(ctx context.Context, prefix, dir string) error {
	return filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		return s.Upload(ctx, path.Join(prefix, filepath.ToSlash(rel)), p)
	})
}

// WriteString stores a small text object, replacing any existing value.
func (s *Store) WriteString(ctx context.Context, key, value string) error {
	if err := s.bucket.WriteAll(ctx, key, []byte(value), nil); err != nil {
		return fmt.Errorf("write %s in %s: %w", key, s.url, err)
	}
	return nil
}

// ReadString fetches a small text object.
func (s *Store) ReadString(ctx context.Context, key string) (string, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return "", fmt.Errorf("read %s in %s: %w", key, s.url, err)
	}
	return string(data), nil
}
