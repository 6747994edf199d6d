package dedup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	logx "hubrelay/pkg/logx"
)

// s3Blob keeps the JSON array as a single object. Credentials and region come
// from the default AWS chain unless set in the config.
type s3Blob struct {
	client *s3.Client
	bucket string
	key    string
}

func openS3(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	sc := cfg.S3
	if strings.TrimSpace(sc.Bucket) == "" {
		return nil, errors.New("dedup: s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if r := strings.TrimSpace(sc.Region); r != "" {
		opts = append(opts, awsconfig.WithRegion(r))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dedup: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if ep := strings.TrimSpace(sc.Endpoint); ep != "" {
			o.BaseEndpoint = aws.String(ep)
		}
		o.UsePathStyle = sc.UsePathStyle
		// S3-compatible stores (MinIO, R2) often reject the newer default checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	b := &s3Blob{client: client, bucket: sc.Bucket, key: sc.Key}
	return newSnapshotStore(ctx, b, cfg, log), nil
}

func (b *s3Blob) Load(ctx context.Context) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, nil
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *s3Blob) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucket),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (b *s3Blob) Close() error { return nil }

func (b *s3Blob) String() string { return "s3://" + b.bucket + "/" + b.key }
