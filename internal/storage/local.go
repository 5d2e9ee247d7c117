package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalObjectStore lays buckets out as directories under a base directory.
// With the outputs bucket this yields the on-disk layout
// <base>/outputs/<output_id>/{model_low.glb, textures/..., output.zip, ...}.
type LocalObjectStore struct {
	baseDir string
}

var _ ObjectStore = (*LocalObjectStore)(nil)

func NewLocalObjectStore(dir string) (*LocalObjectStore, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	if err := os.MkdirAll(baseDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", baseDir, err)
	}

	return &LocalObjectStore{baseDir: baseDir}, nil
}

func (s *LocalObjectStore) fullpath(bucket, key string) (string, error) {
	root := filepath.Join(s.baseDir, bucket)
	path := filepath.Join(root, filepath.FromSlash(key))
	// The separator keeps sibling directories like <base>/<bucket>X from
	// passing the check.
	if !strings.HasPrefix(path, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("key %s escapes bucket %s", key, bucket)
	}
	return path, nil
}

func (s *LocalObjectStore) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(s.baseDir, bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

func (s *LocalObjectStore) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	path, err := s.fullpath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", bucket, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}

	return nil
}

func (s *LocalObjectStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	path, err := s.fullpath(bucket, key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to read object %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (s *LocalObjectStore) GetObjectStream(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	path, err := s.fullpath(bucket, key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to open object %s/%s: %w", bucket, key, err)
	}
	return file, nil
}

func (s *LocalObjectStore) DownloadObject(ctx context.Context, bucket, key, filename string) error {
	stream, err := s.GetObjectStream(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(filename), err)
	}

	dst, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, stream); err != nil {
		return fmt.Errorf("failed to download object %s/%s to %s: %w", bucket, key, filename, err)
	}

	return nil
}

func (s *LocalObjectStore) UploadDir(ctx context.Context, bucket, prefix, src string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk directory %s: %w", src, err)
		}

		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("failed to relativize %s: %w", path, err)
		}

		file, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open file %s: %w", path, err)
		}
		defer file.Close()

		key := filepath.ToSlash(filepath.Join(prefix, rel))
		return s.PutObject(ctx, bucket, key, file)
	})
}

func (s *LocalObjectStore) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	root := filepath.Join(s.baseDir, bucket)

	var objects []Object
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			objects = append(objects, Object{Name: name, Size: info.Size()})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in %s/%s: %w", bucket, prefix, err)
	}

	return objects, nil
}

func (s *LocalObjectStore) DeleteObjects(ctx context.Context, bucket, prefix string) error {
	path := filepath.Join(s.baseDir, bucket, filepath.FromSlash(prefix))
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete objects in %s/%s: %w", bucket, prefix, err)
	}
	return nil
}
