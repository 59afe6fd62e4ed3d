// Package s3util moves verification evidence between S3 and local temp files.
package s3util

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// ObjectAPI is the subset of *s3.Client used here.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ ObjectAPI = (*s3.Client)(nil)

// DownloadToTempFile downloads an S3 object to a new temporary file and returns
// the file path plus a cleanup function that removes it.
func DownloadToTempFile(ctx context.Context, client ObjectAPI, bucket, key string) (string, func(), error) {
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Downloading from S3")
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return "", nil, fmt.Errorf("S3 GetObject %s: %w", key, err)
	}
	defer result.Body.Close()

	tmpFile, err := os.CreateTemp("", "pv-*"+filepath.Ext(key))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmpFile.Name()) }

	if _, err := io.Copy(tmpFile, result.Body); err != nil {
		tmpFile.Close()
		cleanup()
		return "", nil, fmt.Errorf("download %s: %w", key, err)
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return tmpFile.Name(), cleanup, nil
}

// DownloadAll downloads each key to a temp file. Keys that fail are logged
// and skipped; the returned cleanup removes every file that was written.
func DownloadAll(ctx context.Context, client ObjectAPI, bucket string, keys []string) ([]string, func()) {
	var (
		paths    []string
		cleanups []func()
	)
	for _, key := range keys {
		path, cleanup, err := DownloadToTempFile(ctx, client, bucket, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping evidence file")
			continue
		}
		paths = append(paths, path)
		cleanups = append(cleanups, cleanup)
	}
	return paths, func() {
		for _, c := range cleanups {
			c()
		}
	}
}
