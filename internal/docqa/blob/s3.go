package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	s3opts "github.com/kart-io/docqa/pkg/options/s3"
)

// S3Store 将对象保存在 S3 兼容的存储中，返回预签名的访问地址。
type S3Store struct {
	opts    *s3opts.Options
	client  *s3.Client
	presign *s3.PresignClient
}

// NewS3Store 创建 S3 对象存储。
func NewS3Store(ctx context.Context, opts *s3opts.Options) (*S3Store, error) {
	if !opts.Enabled() {
		return nil, fmt.Errorf("s3: bucket is required")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})

	return &S3Store{
		opts:    opts,
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Put 上传对象并返回预签名下载地址。
func (s *S3Store) Put(ctx context.Context, name, contentType string, data []byte) (*Object, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(name),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: failed to upload %s: %w", name, err)
	}

	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(name),
	}, s3.WithPresignExpires(s.opts.PresignExpiry))
	if err != nil {
		return nil, fmt.Errorf("s3: failed to presign %s: %w", name, err)
	}

	return &Object{ID: name, URL: req.URL, Size: int64(len(data))}, nil
}

// Get 下载对象。
func (s *S3Store) Get(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3: failed to download %s: %w", id, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to read %s: %w", id, err)
	}
	return data, nil
}

// Delete 删除对象。S3 删除不存在的对象不会报错。
func (s *S3Store) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return fmt.Errorf("s3: failed to delete %s: %w", id, err)
	}
	return nil
}

var _ Store = (*S3Store)(nil)
