package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

var ErrNoSnapshot = errors.New("no snapshot stored")

type S3Config struct {
	Region     string
	Bucket     string
	AccessKey  string
	SecretKey  string
	Endpoint   string
	PresignTTL time.Duration
}

// Client archives result snapshots to an S3 bucket.
type Client struct {
	cfg     S3Config
	s3      *s3.Client
	presign *s3.PresignClient
}

func NewClient(ctx context.Context, cfg S3Config) (*Client, error) {
	if cfg.Region == "" || cfg.Bucket == "" {
		return nil, errors.New("s3 region and bucket are required")
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = 15 * time.Minute
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	var endpoint string
	if cfg.Endpoint != "" {
		parsed, err := url.Parse(cfg.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid s3 endpoint: %w", err)
		}
		endpoint = parsed.String()
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &Client{
		cfg:     cfg,
		s3:      s3Client,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// SnapshotPrefix is the key prefix holding every snapshot of a poll.
func SnapshotPrefix(pollID uuid.UUID) string {
	return fmt.Sprintf("results/%s/", pollID.String())
}

// SnapshotKey names a snapshot taken at t. Unix seconds sort lexically
// until 2286, so the newest key is the greatest.
func SnapshotKey(pollID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("%s%d.json", SnapshotPrefix(pollID), t.Unix())
}

func (c *Client) PutSnapshot(ctx context.Context, key string, body []byte) error {
	if c == nil {
		return errors.New("s3 client not initialized")
	}
	_, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		ACL:         types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", key, err)
	}
	return nil
}

// LatestSnapshot returns the newest key under prefix or ErrNoSnapshot.
func (c *Client) LatestSnapshot(ctx context.Context, prefix string) (string, error) {
	if c == nil {
		return "", errors.New("s3 client not initialized")
	}
	var keys []string
	p := s3.NewListObjectsV2Paginator(c.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.cfg.Bucket),
		Prefix: aws.String(prefix),
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("list snapshots: %w", err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	if len(keys) == 0 {
		return "", ErrNoSnapshot
	}
	sort.Strings(keys)
	return keys[len(keys)-1], nil
}

// PresignGet returns a time-limited download URL for key.
func (c *Client) PresignGet(ctx context.Context, key string) (string, time.Time, error) {
	if c == nil {
		return "", time.Time{}, errors.New("s3 client not initialized")
	}
	if key == "" {
		return "", time.Time{}, errors.New("object key is required")
	}
	presigned, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.cfg.Bucket),
		Key:    aws.String(key),
	}, func(po *s3.PresignOptions) {
		po.Expires = c.cfg.PresignTTL
	})
	if err != nil {
		return "", time.Time{}, err
	}
	return presigned.URL, time.Now().Add(c.cfg.PresignTTL), nil
}
