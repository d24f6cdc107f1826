package playlist

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/austinkregel/local-media/grooved/internal/types"
)

// BucketOptions configures an S3-compatible object store
type BucketOptions struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	// Presign > 0 hands out presigned GET URLs valid for that long instead
	// of plain object URLs
	Presign time.Duration
}

// BucketSource lists objects under <mediaDir>/ in a bucket
type BucketSource struct {
	client    *minio.Client
	opts      BucketOptions
	prefix    string
	extension string
}

// NewBucketSource creates a bucket source
func NewBucketSource(opts BucketOptions, mediaDir, extension string) (*BucketSource, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("bucket source needs an endpoint and bucket name")
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bucket client: %w", err)
	}

	return &BucketSource{
		client:    client,
		opts:      opts,
		prefix:    strings.Trim(mediaDir, "/") + "/",
		extension: extension,
	}, nil
}

// Fetch lists matching objects sorted by key
func (s *BucketSource) Fetch(ctx context.Context) ([]types.Track, error) {
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.opts.Bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: false,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list bucket: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") || !hasExtension(obj.Key, s.extension) {
			continue
		}
		keys = append(keys, obj.Key)
	}
	sort.Strings(keys)

	tracks := make([]types.Track, 0, len(keys))
	for _, key := range keys {
		locator, err := s.locator(ctx, key)
		if err != nil {
			return nil, err
		}
		id := url.PathEscape(strings.TrimPrefix(key, s.prefix))
		tracks = append(tracks, types.NewTrack(id, locator))
	}
	return tracks, nil
}

func (s *BucketSource) locator(ctx context.Context, key string) (string, error) {
	if s.opts.Presign > 0 {
		u, err := s.client.PresignedGetObject(ctx, s.opts.Bucket, key, s.opts.Presign, nil)
		if err != nil {
			return "", fmt.Errorf("failed to presign %s: %w", key, err)
		}
		return u.String(), nil
	}

	u := *s.client.EndpointURL()
	u.Path = "/" + path.Join(s.opts.Bucket, key)
	return u.String(), nil
}
