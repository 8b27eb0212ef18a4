// Package storage uploads capsule assets to object storage and returns
// their public addresses.
package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ErrStorage wraps every failure to persist an asset.
var ErrStorage = errors.New("storage error")

// Options configures the S3 client.
type Options struct {
	Bucket        string
	Region        string
	Endpoint      string // non-empty for LocalStack / MinIO, enables path-style addressing
	PublicBaseURL string // defaults to the virtual-hosted bucket address
}

type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage stores assets in a single bucket under generated keys.
type S3Storage struct {
	client  putter
	bucket  string
	baseURL string
	now     func() time.Time
}

// NewS3Storage loads the default AWS credential chain and builds a client.
func NewS3Storage(ctx context.Context, opts Options) (*S3Storage, error) {
	if opts.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Storage(client, opts), nil
}

func newS3Storage(client putter, opts Options) *S3Storage {
	base := strings.TrimRight(opts.PublicBaseURL, "/")
	if base == "" {
		switch {
		case opts.Endpoint != "":
			base = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
		default:
			base = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", opts.Bucket, opts.Region)
		}
	}
	return &S3Storage{client: client, bucket: opts.Bucket, baseURL: base, now: time.Now}
}

// Store uploads data under a fresh key derived from suggestedName and returns
// the public URL.  Every call writes a new object, so a retried upload never
// overwrites an earlier one.
func (s *S3Storage) Store(ctx context.Context, data []byte, suggestedName, contentType string) (string, error) {
	key, err := ObjectKey(suggestedName, s.now())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorage, err)
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("%w: put %s: %v", ErrStorage, key, err)
	}
	return s.baseURL + "/" + key, nil
}

const keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ObjectKey returns `<stem>_<unixms>_<random9>.<ext>` for name.
func ObjectKey(name string, now time.Time) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	ext := path.Ext(base)
	stem := sanitize(strings.TrimSuffix(base, ext))
	if stem == "" {
		stem = "file"
	}
	ext = sanitize(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "bin"
	}

	suffix := make([]byte, 9)
	max := big.NewInt(int64(len(keyAlphabet)))
	for i := range suffix {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		suffix[i] = keyAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s_%d_%s.%s", stem, now.UnixMilli(), suffix, ext), nil
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	return b.String()
}
