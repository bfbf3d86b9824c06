package s3

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var viewObject = regexp.MustCompile(`led_map_2d_\d+\.csv$`)

type Client struct {
	client *minio.Client
	bucket string
}

func NewMinioClient(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, bucket: bucket}, nil
}

// EnsureBucket создаёт бакет, если его ещё нет
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.bucket, err)
	}
	return nil
}

// CountViews возвращает количество уже сохранённых видов проекта
func (c *Client) CountViews(ctx context.Context, project string) (int, error) {
	count := 0
	objectCh := c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    projectPrefix(project),
		Recursive: true,
	})

	for object := range objectCh {
		if object.Err != nil {
			return 0, fmt.Errorf("error listing objects: %w", object.Err)
		}

		if strings.HasSuffix(object.Key, "/") || !viewObject.MatchString(object.Key) {
			continue
		}

		count++
	}

	return count, nil
}

// NewViewWriter returns a sink that uploads one CSV per view of project when
// the view finishes.
func (c *Client) NewViewWriter(ctx context.Context, project string) *ViewWriter {
	return newViewWriter(ctx, project, c.upload)
}

func (c *Client) upload(ctx context.Context, objectPath string, data []byte) error {
	_, err := c.client.PutObject(
		ctx,
		c.bucket,
		objectPath,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "text/csv",
		},
	)
	if err != nil {
		return fmt.Errorf("failed to save %s to S3: %w", objectPath, err)
	}
	return nil
}

func projectPrefix(project string) string {
	return strings.Trim(project, "/") + "/"
}

func viewObjectPath(project string, viewID int) string {
	return fmt.Sprintf("%sled_map_2d_%04d.csv", projectPrefix(project), viewID)
}
