// Package storage resolves and stages remote File/Directory/URI-typed
// parameters (spec §3's dtypes) whose location uses the "s3://" scheme.
// Grounded on the teacher's pkg/cwl.ParseLocationScheme (scheme dispatch
// over a location URI) and internal/iwdr.Stage (copying a remote input into
// a local working directory before a run, and reporting the staged path
// back so the caller can rewrite the bound parameter value).
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const SchemeS3 = "s3"

// ParseScheme splits a location into (scheme, rest), mirroring the
// teacher's ParseLocationScheme: a bare path with no "scheme://" prefix
// reports an empty scheme.
func ParseScheme(location string) (scheme, rest string) {
	if i := strings.Index(location, "://"); i > 0 {
		return strings.ToLower(location[:i]), location[i+3:]
	}
	return "", location
}

// Stager stages remote-scheme File/Directory/URI values into a local
// working directory before a cab runs, and uploads declared outputs back to
// their remote location afterward.
type Stager struct {
	client *s3.Client
}

// NewStager creates a Stager backed by the default AWS credential chain
// (environment, shared config, EC2/ECS role) — the same layered resolution
// the teacher relies on implicitly via its executor's external processes,
// made explicit here since this core talks to S3 directly.
func NewStager(ctx context.Context) (*Stager, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: load aws config: %w", err)
	}
	return &Stager{client: s3.NewFromConfig(cfg)}, nil
}

// NewStagerWithClient wraps an already-configured S3 client, for tests and
// callers pointing at a non-default endpoint (e.g. a local S3-compatible
// test server).
func NewStagerWithClient(client *s3.Client) *Stager {
	return &Stager{client: client}
}

// IsRemote reports whether location names a scheme this Stager handles.
func IsRemote(location string) bool {
	scheme, _ := ParseScheme(location)
	return scheme == SchemeS3
}

// Stage downloads the object (or, for a Directory dtype, every object under
// the prefix) named by an "s3://bucket/key" location into destDir, returning
// the local path a cab's invocation plan should bind in place of location.
func (st *Stager) Stage(ctx context.Context, location, destDir string, isDirectory bool) (string, error) {
	scheme, rest := ParseScheme(location)
	if scheme != SchemeS3 {
		return "", fmt.Errorf("storage: unsupported scheme %q in %q", scheme, location)
	}
	bucket, key, err := splitBucketKey(rest)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("storage: mkdir %s: %w", destDir, err)
	}

	downloader := manager.NewDownloader(st.client)
	if !isDirectory {
		localPath := filepath.Join(destDir, filepath.Base(key))
		if err := st.downloadOne(ctx, downloader, bucket, key, localPath); err != nil {
			return "", err
		}
		return localPath, nil
	}

	paginator := s3.NewListObjectsV2Paginator(st.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(key),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("storage: list %s/%s: %w", bucket, key, err)
		}
		for _, obj := range page.Contents {
			rel := strings.TrimPrefix(aws.ToString(obj.Key), key)
			rel = strings.TrimPrefix(rel, "/")
			if rel == "" {
				continue
			}
			localPath := filepath.Join(destDir, rel)
			if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
				return "", fmt.Errorf("storage: mkdir %s: %w", filepath.Dir(localPath), err)
			}
			if err := st.downloadOne(ctx, downloader, bucket, aws.ToString(obj.Key), localPath); err != nil {
				return "", err
			}
		}
	}
	return destDir, nil
}

func (st *Stager) downloadOne(ctx context.Context, downloader *manager.Downloader, bucket, key, localPath string) error {
	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("storage: create %s: %w", localPath, err)
	}
	defer f.Close()
	if _, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("storage: download s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

// Upload pushes a local path (file or, recursively, directory) back to its
// declared "s3://bucket/key" output location after a cab run completes.
func (st *Stager) Upload(ctx context.Context, localPath, location string) error {
	scheme, rest := ParseScheme(location)
	if scheme != SchemeS3 {
		return fmt.Errorf("storage: unsupported scheme %q in %q", scheme, location)
	}
	bucket, key, err := splitBucketKey(rest)
	if err != nil {
		return err
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("storage: stat %s: %w", localPath, err)
	}
	uploader := manager.NewUploader(st.client)
	if !info.IsDir() {
		return st.uploadOne(ctx, uploader, localPath, bucket, key)
	}
	return filepath.Walk(localPath, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, err := filepath.Rel(localPath, path)
		if err != nil {
			return err
		}
		return st.uploadOne(ctx, uploader, path, bucket, filepath.ToSlash(filepath.Join(key, rel)))
	})
}

func (st *Stager) uploadOne(ctx context.Context, uploader *manager.Uploader, localPath, bucket, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", localPath, err)
	}
	defer f.Close()
	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("storage: upload %s to s3://%s/%s: %w", localPath, bucket, key, err)
	}
	return nil
}

func splitBucketKey(rest string) (bucket, key string, err error) {
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("storage: malformed s3 location %q, expected bucket/key", rest)
	}
	return parts[0], parts[1], nil
}
