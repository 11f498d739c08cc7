package s3

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client wraps the minio s3 client
type Client struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	minioClient     *minio.Client
	bucket          string
	prefix          string
}

// New returns a new Client. The endpoint is a URL whose path holds the bucket
// and an optional object prefix, e.g. https://s3.example.com/archive/laptop.
func New(endpoint, accessKeyID, secretAccessKey string) *Client {
	return &Client{
		Endpoint:        endpoint,
		AccessKeyID:     accessKeyID,
		SecretAccessKey: secretAccessKey,
	}
}

// Connect creates a minio client and the bucket if it does not exist yet.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("error parsing S3 endpoint URL: %w", err)
	}

	var ssl bool
	switch u.Scheme {
	case "https":
		ssl = true
	case "http":
		ssl = false
	default:
		return fmt.Errorf("endpoint '%v' has wrong scheme '%s' (should be 'http' or 'https')", c.Endpoint, u.Scheme)
	}

	c.bucket, c.prefix = parseBucketAndPrefix(u.Path)
	if c.bucket == "" {
		return fmt.Errorf("endpoint '%v' does not contain a bucket", c.Endpoint)
	}

	mc, err := minio.New(u.Host, &minio.Options{
		Creds:  credentials.NewStaticV4(c.AccessKeyID, c.SecretAccessKey, ""),
		Secure: ssl,
	})
	if err != nil {
		return err
	}
	c.minioClient = mc

	return c.createBucket(ctx)
}

func (c *Client) createBucket(ctx context.Context) error {
	exists, err := c.minioClient.BucketExists(ctx, c.bucket)
	// Workaround for upstream bug -> australian s3 returns error on non existing bucket.
	if !exists && (err == nil || strings.Contains(err.Error(), "exist")) {
		return c.minioClient.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{})
	} else if err != nil {
		return err
	}
	return nil
}

// Upload streams r to the object name below the configured prefix.
func (c *Client) Upload(ctx context.Context, name string, r io.Reader) error {
	_, err := c.minioClient.PutObject(ctx, c.bucket, c.objectPath(name), r, -1, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("cannot upload %s to bucket %s: %w", name, c.bucket, err)
	}
	return nil
}

// ListObjects lists all objects below the configured prefix.
func (c *Client) ListObjects(ctx context.Context) ([]minio.ObjectInfo, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if c.prefix != "" {
		opts.Prefix = c.prefix + "/"
	}

	tmpInfos := []minio.ObjectInfo{}
	for object := range c.minioClient.ListObjects(ctx, c.bucket, opts) {
		if object.Err != nil {
			return nil, object.Err
		}
		tmpInfos = append(tmpInfos, object)
	}
	return tmpInfos, nil
}

func (c *Client) objectPath(name string) string {
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// parseBucketAndPrefix splits a URL path into the bucket and the object prefix.
func parseBucketAndPrefix(urlPath string) (string, string) {
	trimmed := strings.Trim(urlPath, "/")
	if trimmed == "" {
		return "", ""
	}
	bucket, prefix, _ := strings.Cut(trimmed, "/")
	return bucket, prefix
}
