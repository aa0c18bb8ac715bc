package testsupport

import (
	"context"
	"errors"
	"sync"
	"time"

	"nutri-snap-go/pkg/storage"
)

// ErrNoSuchKey 由 ObjectStore 在对象不存在时返回。
var ErrNoSuchKey = errors.New("no such key")

// ObjectStore 是内存版的 storage.ObjectStore。
type ObjectStore struct {
	BucketName string
	PresignErr error
	GetErr     error

	mu       sync.Mutex
	objects  map[string]storage.Object
	gets     int
	removed  []string
	presigns []string
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore 创建一个空的内存存储桶。
func NewObjectStore(bucket string) *ObjectStore {
	return &ObjectStore{BucketName: bucket, objects: map[string]storage.Object{}}
}

// Put 写入一个对象，模拟客户端通过预签名链接上传。
func (s *ObjectStore) Put(key string, data []byte, contentType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = storage.Object{Data: data, ContentType: contentType}
}

func (s *ObjectStore) Bucket() string { return s.BucketName }

func (s *ObjectStore) PresignPut(_ context.Context, key, contentType string, expiry time.Duration) (string, error) {
	if s.PresignErr != nil {
		return "", s.PresignErr
	}
	s.mu.Lock()
	s.presigns = append(s.presigns, key)
	s.mu.Unlock()
	return "https://storage.test/" + s.BucketName + "/" + key + "?X-Amz-Expires=" + expiry.String() + "&ct=" + contentType, nil
}

func (s *ObjectStore) GetObject(_ context.Context, _ string, key string) (*storage.Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	obj, ok := s.objects[key]
	if !ok {
		return nil, ErrNoSuchKey
	}
	return &storage.Object{Data: append([]byte(nil), obj.Data...), ContentType: obj.ContentType}, nil
}

func (s *ObjectStore) RemoveObject(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

// Gets 返回 GetObject 被调用的次数。
func (s *ObjectStore) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Removed 返回被删除的对象键。
func (s *ObjectStore) Removed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.removed...)
}

// Presigned 返回签发过链接的对象键。
func (s *ObjectStore) Presigned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.presigns...)
}

// InferCall 记录一次推理调用。
type InferCall struct {
	Image    []byte
	MimeType string
}

// Inferrer 是可编程的 vision.Inferrer 替身。
type Inferrer struct {
	// Fn 为空时返回 Response。
	Fn       func(ctx context.Context, image []byte, mimeType string) (string, error)
	Response string

	mu    sync.Mutex
	calls []InferCall
}

func (f *Inferrer) Infer(ctx context.Context, image []byte, mimeType string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, InferCall{Image: image, MimeType: mimeType})
	f.mu.Unlock()
	if f.Fn != nil {
		return f.Fn(ctx, image, mimeType)
	}
	return f.Response, nil
}

// Calls 返回全部推理调用。
func (f *Inferrer) Calls() []InferCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]InferCall(nil), f.calls...)
}
