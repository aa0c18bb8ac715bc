package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"nutri-snap-go/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	body        []byte
	contentType string
	getErr      error
	deleted     []string
	gotBucket   string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.gotBucket = aws.ToString(in.Bucket)
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(f.body)),
		ContentType: aws.String(f.contentType),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

type fakePresign struct {
	in      *s3.PutObjectInput
	expires time.Duration
}

func (f *fakePresign) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	f.in = in
	f.expires = opts.Expires
	return &v4.PresignedHTTPRequest{URL: "https://bucket.example/" + aws.ToString(in.Key) + "?X-Amz-Signature=x"}, nil
}

func TestS3Store_PresignPut(t *testing.T) {
	p := &fakePresign{}
	s := &S3Store{client: &fakeS3{}, presign: p, bucket: "food"}

	url, err := s.PresignPut(context.Background(), "u1/abc-lunch.jpg", "image/jpeg", time.Hour)
	require.NoError(t, err)

	assert.Contains(t, url, "u1/abc-lunch.jpg")
	assert.Equal(t, "food", aws.ToString(p.in.Bucket))
	assert.Equal(t, "image/jpeg", aws.ToString(p.in.ContentType))
	assert.Equal(t, time.Hour, p.expires)
}

func TestS3Store_GetObject(t *testing.T) {
	f := &fakeS3{body: []byte("jpeg-bytes"), contentType: "image/jpeg"}
	s := &S3Store{client: f, presign: &fakePresign{}, bucket: "food"}

	obj, err := s.GetObject(context.Background(), "", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), obj.Data)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, "food", f.gotBucket)

	_, err = s.GetObject(context.Background(), "other", "k")
	require.NoError(t, err)
	assert.Equal(t, "other", f.gotBucket)
}

func TestS3Store_GetObject_Errors(t *testing.T) {
	s := &S3Store{client: &fakeS3{getErr: errors.New("boom")}, bucket: "food"}
	_, err := s.GetObject(context.Background(), "", "k")
	require.Error(t, err)

	big := &fakeS3{body: make([]byte, MaxObjectSize+1)}
	s = &S3Store{client: big, bucket: "food"}
	_, err = s.GetObject(context.Background(), "", "k")
	require.ErrorIs(t, err, ErrObjectTooLarge)
}

func TestS3Store_RemoveObject(t *testing.T) {
	f := &fakeS3{}
	s := &S3Store{client: f, bucket: "food"}
	require.NoError(t, s.RemoveObject(context.Background(), "u1/k"))
	assert.Equal(t, []string{"u1/k"}, f.deleted)
}

func TestNewS3_LoadConfig(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var region string
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		var lo awsconfig.LoadOptions
		for _, fn := range optFns {
			require.NoError(t, fn(&lo))
		}
		region = lo.Region
		return aws.Config{Region: lo.Region}, nil
	}

	s, err := NewS3(context.Background(), config.StorageConfig{
		Region:          "eu-central-1",
		Endpoint:        "http://127.0.0.1:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		BucketName:      "food",
	})
	require.NoError(t, err)
	assert.Equal(t, "eu-central-1", region)
	assert.Equal(t, "food", s.Bucket())

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("load-fail")
	}
	_, err = NewS3(context.Background(), config.StorageConfig{BucketName: "food"})
	require.ErrorContains(t, err, "load-fail")
}
