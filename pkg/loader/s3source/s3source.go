// Package s3source serves component module sources from an S3 bucket, for
// deployments where transformed sources are published at build time instead
// of shipped with the server binary.
package s3source

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rari-build/rari-go/internal/errors"
)

// Client is the subset of the S3 API the source uses.
type Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Source fetches module sources from S3. Keys are derived from module
// specifiers by stripping the file:// scheme and joining with the prefix.
type Source struct {
	client  Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// New creates a source over an existing S3 client.
func New(client Client, bucket, prefix string) *Source {
	return &Source{
		client:  client,
		bucket:  bucket,
		prefix:  strings.TrimSuffix(prefix, "/"),
		timeout: 10 * time.Second,
	}
}

// NewFromDefaultConfig builds an S3 client from the ambient AWS config.
func NewFromDefaultConfig(ctx context.Context, bucket, prefix, region string) (*Source, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.New("E025").Wrap(err)
	}
	return New(s3.NewFromConfig(cfg), bucket, prefix), nil
}

// WithTimeout overrides the per-fetch deadline.
func (s *Source) WithTimeout(d time.Duration) *Source {
	s.timeout = d
	return s
}

// Fetch implements loader.SourceStore.
func (s *Source) Fetch(specifier string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	key := s.keyFor(specifier)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.New("E025").WithDetailf("s3://%s/%s", s.bucket, key).Wrap(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return "", errors.New("E025").WithDetailf("s3://%s/%s", s.bucket, key).Wrap(err)
	}
	return string(data), nil
}

func (s *Source) keyFor(specifier string) string {
	key := strings.TrimPrefix(specifier, "file://")
	key = strings.TrimPrefix(key, "/")
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}
