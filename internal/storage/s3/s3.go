package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"newsdesk/internal/apperr"
	"newsdesk/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Config 包含 S3 / R2 存储所需的配置。
type Config struct {
	AccountID string // R2 账号，未配置 Endpoint 时用于推导地址
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	Endpoint  string
	PublicURL string
}

// API 是本包用到的 S3 客户端方法，便于测试替换。
type API interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, optFns ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, optFns ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, optFns ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Storage 实现了 storage.Backend 接口，使用 aws-sdk-go-v2。
type Storage struct {
	client    API
	bucket    string
	endpoint  string
	publicURL string
}

var (
	_ storage.Backend     = (*Storage)(nil)
	_ storage.BucketNamer = (*Storage)(nil)
)

// ResolveEndpoint 返回显式配置的地址，或根据账号推导 R2 地址。
func ResolveEndpoint(cfg Config) string {
	if ep := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"); ep != "" {
		return ep
	}
	if cfg.AccountID != "" {
		return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}
	return ""
}

// New 根据配置构造 S3 客户端，只在启动时调用一次。
func New(ctx context.Context, cfg Config) (*Storage, error) {
	endpoint := ResolveEndpoint(cfg)
	if endpoint == "" {
		return nil, apperr.Configuration("object storage endpoint is not configured")
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return NewWithClient(client, cfg.Bucket, endpoint, cfg.PublicURL), nil
}

// NewWithClient 使用已有客户端构造存储。
func NewWithClient(client API, bucket, endpoint, publicURL string) *Storage {
	return &Storage{
		client:    client,
		bucket:    bucket,
		endpoint:  strings.TrimRight(endpoint, "/"),
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

func (s *Storage) Name() string { return "s3" }

// Bucket 返回对象所在的 bucket。
func (s *Storage) Bucket() string { return s.bucket }

func (s *Storage) Upload(ctx context.Context, in storage.UploadInput) (storage.UploadResult, error) {
	input := &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(in.Key),
		Body:        in.Body,
		ContentType: aws.String(in.ContentType),
		Metadata:    in.Metadata,
	}
	if in.Size > 0 {
		input.ContentLength = aws.Int64(in.Size)
	}
	out, err := s.client.PutObject(ctx, input)
	if err != nil {
		return storage.UploadResult{}, apperr.StorageWrite(err, "put object %s", in.Key)
	}

	return storage.UploadResult{
		URL:    s.PublicURL(in.Key),
		Key:    in.Key,
		ETag:   strings.Trim(aws.ToString(out.ETag), `"`),
		Bucket: s.bucket,
	}, nil
}

// Delete 先 HeadObject 确认存在，再删除。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if _, err := s.Stat(ctx, key); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return err
		}
		return apperr.StorageWrite(err, "delete %s", key)
	}
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return apperr.NotFound("file not found: %s", key)
		}
		return apperr.StorageWrite(err, "delete object %s", key)
	}
	return nil
}

func (s *Storage) List(ctx context.Context, opts storage.ListOptions) (storage.ListResult, error) {
	input := &awss3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		MaxKeys: aws.Int32(int32(opts.Limit())),
	}
	if opts.Prefix != "" {
		input.Prefix = aws.String(opts.Prefix)
	}
	if opts.ContinuationToken != "" {
		input.ContinuationToken = aws.String(opts.ContinuationToken)
	}

	out, err := s.client.ListObjectsV2(ctx, input)
	if err != nil {
		return storage.ListResult{}, apperr.StorageRead(err, "list objects")
	}

	result := storage.ListResult{
		Files:       make([]storage.ObjectInfo, 0, len(out.Contents)),
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	if result.IsTruncated {
		result.NextContinuationToken = aws.ToString(out.NextContinuationToken)
	}
	for _, obj := range out.Contents {
		result.Files = append(result.Files, storage.ObjectInfo{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
			ETag:         strings.Trim(aws.ToString(obj.ETag), `"`),
			StorageClass: string(obj.StorageClass),
		})
	}
	return result, nil
}

func (s *Storage) Stat(ctx context.Context, key string) (storage.ObjectMetadata, error) {
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return storage.ObjectMetadata{}, apperr.NotFound("file not found: %s", key)
		}
		return storage.ObjectMetadata{}, apperr.StorageRead(err, "head object %s", key)
	}

	meta := make(map[string]string, len(out.Metadata))
	for k, v := range out.Metadata {
		meta[strings.ToLower(k)] = v
	}
	return storage.ObjectMetadata{
		Size:         aws.ToInt64(out.ContentLength),
		LastModified: aws.ToTime(out.LastModified),
		ContentType:  aws.ToString(out.ContentType),
		ETag:         strings.Trim(aws.ToString(out.ETag), `"`),
		Metadata:     meta,
	}, nil
}

// PublicURL 优先拼接自定义域名，否则使用 endpoint/bucket/key。
func (s *Storage) PublicURL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return s.endpoint + "/" + s.bucket + "/" + key
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound"
	}
	return false
}
