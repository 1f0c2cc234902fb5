package destination

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/yurykabanov/pgbackuper/pkg/domain"
)

const (
	KeyPrefix = "postgresql-backups/"

	locatorScheme = "s3://"
)

type s3API interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(context.Context, *s3.DeleteObjectInput, ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 stores artifacts as objects under KeyPrefix. A single PutObject either
// creates the whole object or nothing.
type S3 struct {
	client   s3API
	bucket   string
	endpoint string
}

func NewS3(client s3API, bucket, endpoint string) *S3 {
	return &S3{
		client:   client,
		bucket:   bucket,
		endpoint: endpoint,
	}
}

func (d *S3) Write(ctx context.Context, name string, r io.Reader) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}

	key := KeyPrefix + name

	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(contentType(name)),
	})
	if err != nil {
		return "", d.wrap(err, "upload", key)
	}

	return FormatLocator(d.bucket, key), nil
}

func (d *S3) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	bucket, key, err := ParseLocator(locator)
	if err != nil {
		return nil, err
	}

	out, err := d.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, d.wrap(err, "download", key)
	}

	return out.Body, nil
}

// Delete removes the object. Deleting a missing key succeeds.
func (d *S3) Delete(ctx context.Context, locator string) error {
	bucket, key, err := ParseLocator(locator)
	if err != nil {
		return err
	}

	_, err = d.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return d.wrap(err, "delete", key)
	}

	return nil
}

// wrap reports failures that never got an HTTP response as connection errors.
func (d *S3) wrap(err error, op, key string) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		return errors.Wrapf(err, "unable to %s %s", op, key)
	}

	target := d.endpoint
	if target == "" {
		target = "s3 bucket " + d.bucket
	}

	return &domain.ConnectionError{Target: target, Err: err}
}

func FormatLocator(bucket, key string) string {
	return fmt.Sprintf("%s%s/%s", locatorScheme, bucket, key)
}

// ParseLocator splits "s3://bucket/key".
func ParseLocator(locator string) (bucket, key string, err error) {
	if !strings.HasPrefix(locator, locatorScheme) {
		return "", "", errors.Errorf("invalid object store locator %q", locator)
	}

	parts := strings.SplitN(strings.TrimPrefix(locator, locatorScheme), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.Errorf("invalid object store locator %q", locator)
	}

	return parts[0], parts[1], nil
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".gz") {
		return "application/gzip"
	}
	return "application/sql"
}
