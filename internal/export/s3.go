package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pgEdge/pgedge-starload/internal/logging"
)

// ObjectPutter is the part of *s3.Client the uploader needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader copies exported files to a bucket under
// <prefix><run id>/<file name>.
type S3Uploader struct {
	Client ObjectPutter
	Bucket string
	Prefix string
}

// NewS3Uploader creates an uploader using the default AWS credential chain.
// An empty bucket yields a disabled uploader.
func NewS3Uploader(ctx context.Context, bucket, region, prefix string) (*S3Uploader, error) {
	if bucket == "" {
		return &S3Uploader{}, nil
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return &S3Uploader{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
		Prefix: prefix,
	}, nil
}

// Enabled reports whether uploads are configured.
func (u *S3Uploader) Enabled() bool {
	return u != nil && u.Client != nil && u.Bucket != ""
}

// Key returns the object key for a file exported by a run.
func (u *S3Uploader) Key(runID, path string) string {
	return u.Prefix + runID + "/" + filepath.Base(path)
}

// Upload puts every file and returns their s3:// URLs.
func (u *S3Uploader) Upload(ctx context.Context, runID string, paths []string) ([]string, error) {
	if !u.Enabled() {
		return nil, fmt.Errorf("s3 uploader not configured")
	}
	if runID == "" {
		return nil, fmt.Errorf("run id is required for upload keys")
	}

	urls := make([]string, 0, len(paths))
	for _, path := range paths {
		url, err := u.uploadFile(ctx, runID, path)
		if err != nil {
			return urls, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (u *S3Uploader) uploadFile(ctx context.Context, runID, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	key := u.Key(runID, path)
	_, err = u.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentType(path)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}

	url := fmt.Sprintf("s3://%s/%s", u.Bucket, key)
	logging.Info().Str("file", path).Str("url", url).Msg("Uploaded export")
	return url, nil
}

func contentType(path string) string {
	switch filepath.Ext(path) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
