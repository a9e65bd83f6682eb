package s3

import (
	"context"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"newsdesk/internal/apperr"
	"newsdesk/internal/storage"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 是一个内存版 bucket，续页 token 为下一个对象的下标。
type fakeS3 struct {
	objects map[string]fakeObject
	putErr  error
	deletes int
}

type fakeObject struct {
	body     []byte
	ctype    string
	metadata map[string]string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string]fakeObject{}} }

func (f *fakeS3) PutObject(ctx context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = fakeObject{body: body, ctype: aws.ToString(in.ContentType), metadata: in.Metadata}
	return &awss3.PutObjectOutput{ETag: aws.String(`"etag-` + aws.ToString(in.Key) + `"`)}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.deletes++
	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *awss3.HeadObjectInput, _ ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &awss3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.body))),
		ContentType:   aws.String(obj.ctype),
		ETag:          aws.String(`"etag"`),
		LastModified:  aws.Time(time.Unix(1700000000, 0)),
		Metadata:      obj.metadata,
	}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if in.Prefix == nil || len(k) >= len(*in.Prefix) && k[:len(*in.Prefix)] == *in.Prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		start, _ = strconv.Atoi(*in.ContinuationToken)
	}
	end := start + int(aws.ToInt32(in.MaxKeys))
	truncated := end < len(keys)
	if !truncated {
		end = len(keys)
	}

	out := &awss3.ListObjectsV2Output{IsTruncated: aws.Bool(truncated)}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k].body))),
			ETag: aws.String(`"e"`),
		})
	}
	if truncated {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}

func upload(t *testing.T, s *Storage, key string) {
	t.Helper()
	_, err := s.Upload(context.Background(), storage.UploadInput{
		Key:         key,
		Body:        bytesReader("data"),
		Size:        4,
		ContentType: "image/png",
		Metadata:    map[string]string{"Original-Name": "Pic.png"},
	})
	require.NoError(t, err)
}

func TestResolveEndpoint(t *testing.T) {
	assert.Equal(t, "https://acc.r2.cloudflarestorage.com", ResolveEndpoint(Config{AccountID: "acc"}))
	assert.Equal(t, "http://minio:9000", ResolveEndpoint(Config{AccountID: "acc", Endpoint: "http://minio:9000/"}))
	assert.Empty(t, ResolveEndpoint(Config{}))
}

func TestUpload_ReturnsLocation(t *testing.T) {
	fake := newFakeS3()
	s := NewWithClient(fake, "media", "https://acc.r2.cloudflarestorage.com", "")

	res, err := s.Upload(context.Background(), storage.UploadInput{Key: "a/1-x-p.png", Body: bytesReader("abc"), Size: 3, ContentType: "image/png"})
	require.NoError(t, err)

	assert.Equal(t, "https://acc.r2.cloudflarestorage.com/media/a/1-x-p.png", res.URL)
	assert.Equal(t, "etag-a/1-x-p.png", res.ETag)
	assert.Equal(t, "media", res.Bucket)
	assert.Equal(t, "image/png", fake.objects["a/1-x-p.png"].ctype)
}

func TestUpload_WrapsBackendFailure(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("invalid access key")
	s := NewWithClient(fake, "media", "https://e", "")

	_, err := s.Upload(context.Background(), storage.UploadInput{Key: "k", Body: bytesReader("x")})
	assert.True(t, apperr.Is(err, apperr.KindStorageWrite))
	assert.Contains(t, err.Error(), "invalid access key")
}

func TestPublicURL_CustomDomain(t *testing.T) {
	s := NewWithClient(newFakeS3(), "media", "https://e", "https://cdn.news.example/")
	assert.Equal(t, "https://cdn.news.example/x/y.png", s.PublicURL("x/y.png"))
}

func TestDelete_MissingKeyIsNotFound(t *testing.T) {
	fake := newFakeS3()
	s := NewWithClient(fake, "media", "https://e", "")

	err := s.Delete(context.Background(), "never-uploaded.png")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	assert.Zero(t, fake.deletes)

	upload(t, s, "there.png")
	require.NoError(t, s.Delete(context.Background(), "there.png"))
	assert.Equal(t, 1, fake.deletes)
}

func TestStat_LowercasesMetadata(t *testing.T) {
	s := NewWithClient(newFakeS3(), "media", "https://e", "")
	upload(t, s, "k.png")

	meta, err := s.Stat(context.Background(), "k.png")
	require.NoError(t, err)
	assert.Equal(t, "Pic.png", meta.Metadata[storage.MetaOriginalName])
	assert.Equal(t, int64(4), meta.Size)
	assert.Equal(t, "etag", meta.ETag)
}

func TestList_Pagination(t *testing.T) {
	s := NewWithClient(newFakeS3(), "media", "https://e", "")
	upload(t, s, "1.png")
	upload(t, s, "2.png")

	first, err := s.List(context.Background(), storage.ListOptions{MaxKeys: 1})
	require.NoError(t, err)
	require.Len(t, first.Files, 1)
	assert.True(t, first.IsTruncated)
	require.NotEmpty(t, first.NextContinuationToken)

	second, err := s.List(context.Background(), storage.ListOptions{MaxKeys: 1, ContinuationToken: first.NextContinuationToken})
	require.NoError(t, err)
	require.Len(t, second.Files, 1)
	assert.Equal(t, "2.png", second.Files[0].Key)
	assert.False(t, second.IsTruncated)
	assert.Empty(t, second.NextContinuationToken)
}

func bytesReader(s string) io.Reader { return strings.NewReader(s) }
