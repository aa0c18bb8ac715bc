package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"nutri-snap-go/internal/model"
	"nutri-snap-go/internal/repository"
	"nutri-snap-go/internal/testsupport"
	"nutri-snap-go/pkg/tasks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	bucket   = "food"
	owner    = "alice"
	uploadID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	apple    = `{"items":[{"name":"Apple","calories":95,"protein":0,"carbs":25,"fat":0}]}`
)

// spyRepo 统计写操作次数。
type spyRepo struct {
	repository.UploadRepository
	mu      sync.Mutex
	writes  int
	failErr error
}

func (s *spyRepo) count() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *spyRepo) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *spyRepo) MarkProcessing(ctx context.Context, id, ownerID string) error {
	s.count()
	return s.UploadRepository.MarkProcessing(ctx, id, ownerID)
}

func (s *spyRepo) MarkFailed(ctx context.Context, id, ownerID, reason string) error {
	s.count()
	if s.failErr != nil {
		return s.failErr
	}
	return s.UploadRepository.MarkFailed(ctx, id, ownerID, reason)
}

func (s *spyRepo) ReplaceItemsAndMarkSuccess(ctx context.Context, id, ownerID string, items []model.NutritionItem) error {
	s.count()
	return s.UploadRepository.ReplaceItemsAndMarkSuccess(ctx, id, ownerID, items)
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls int
	items []model.NutritionItem
	err   error
}

func (f *fakeIndexer) IndexItems(_ context.Context, _ *model.UploadFile, items []model.NutritionItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.items = items
	return f.err
}

type fixture struct {
	repo     *spyRepo
	store    *testsupport.ObjectStore
	inferrer *testsupport.Inferrer
	indexer  *fakeIndexer
	proc     *Processor
	key      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     &spyRepo{UploadRepository: repository.NewUploadRepository(testsupport.NewDB(t))},
		store:    testsupport.NewObjectStore(bucket),
		inferrer: &testsupport.Inferrer{Response: apple},
		indexer:  &fakeIndexer{},
		key:      model.BuildObjectKey(owner, uploadID, "my lunch.jpg"),
	}
	f.proc = NewProcessor(f.repo, f.store, f.inferrer, f.indexer, time.Second)
	return f
}

// seed 创建记录并上传对象，模拟客户端已完成 PUT。
func (f *fixture) seed(t *testing.T, data []byte, contentType string) {
	t.Helper()
	require.NoError(t, f.repo.Create(context.Background(), &model.UploadFile{
		ID:          uploadID,
		OwnerID:     owner,
		Name:        "my lunch.jpg",
		ObjectKey:   f.key,
		ContentType: "image/jpeg",
		Status:      model.StatusPending,
	}))
	if data != nil {
		f.store.Put(f.key, data, contentType)
	}
}

func (f *fixture) rawKey() string {
	return url.QueryEscape(f.key)
}

func (f *fixture) record(t *testing.T) *model.UploadFile {
	t.Helper()
	rec, err := f.repo.FindByIDAndOwner(context.Background(), uploadID, owner)
	require.NoError(t, err)
	return rec
}

func (f *fixture) items(t *testing.T) []model.NutritionItem {
	t.Helper()
	items, err := f.repo.FindItems(context.Background(), uploadID)
	require.NoError(t, err)
	return items
}

func TestOnObjectCreated_Apple(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.NoError(t, out.Err)
	assert.Equal(t, model.StatusSuccess, out.Status)
	assert.Equal(t, owner, out.OwnerID)
	assert.Equal(t, uploadID, out.UploadID)
	assert.Equal(t, 1, out.ItemCount)
	assert.False(t, out.Skipped)

	assert.Equal(t, model.StatusSuccess, f.record(t).Status)
	items := f.items(t)
	require.Len(t, items, 1)
	assert.Equal(t, "Apple", items[0].Name)
	assert.Equal(t, 95, items[0].Calories)
	assert.Equal(t, 25, items[0].Carbs)
	assert.Equal(t, 0, items[0].Protein)
	assert.Equal(t, 0, items[0].Fat)

	calls := f.inferrer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []byte("jpeg-bytes"), calls[0].Image)
	assert.Equal(t, "image/jpeg", calls[0].MimeType)
	assert.Equal(t, 1, f.indexer.calls)
}

func TestOnObjectCreated_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Response = `{"items":[
		{"name":"Burger","calories":550,"protein":25,"carbs":40,"fat":30},
		{"name":"Fries","calories":365,"protein":4,"carbs":48,"fat":17}
	]}`
	ctx := context.Background()

	first := f.proc.OnObjectCreated(ctx, bucket, f.rawKey())
	require.NoError(t, first.Err)
	before := f.items(t)

	second := f.proc.OnObjectCreated(ctx, bucket, f.rawKey())
	require.NoError(t, second.Err)
	assert.True(t, second.Skipped)
	assert.Equal(t, model.StatusSuccess, second.Status)

	assert.Equal(t, before, f.items(t))
	assert.Len(t, f.inferrer.Calls(), 1)
}

func TestOnObjectCreated_FailedRecordIsFinal(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	ctx := context.Background()

	f.inferrer.Response = "I think this is an apple."
	out := f.proc.OnObjectCreated(ctx, bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrValidation)
	require.ErrorIs(t, out.Err, ErrFailureRecorded)

	// 重复通知不会把 FAILED 改回 SUCCESS
	f.inferrer.Response = apple
	out = f.proc.OnObjectCreated(ctx, bucket, f.rawKey())
	require.NoError(t, out.Err)
	assert.True(t, out.Skipped)
	assert.Equal(t, model.StatusFailed, out.Status)

	rec := f.record(t)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, model.ReasonMalformedOutput, rec.FailureReason)
	assert.Empty(t, f.items(t))
	assert.Len(t, f.inferrer.Calls(), 1)
}

func TestOnObjectCreated_FailureWriteErrorIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Response = "not json"
	f.repo.failErr = errors.New("connection reset by peer")

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrValidation)
	assert.ErrorIs(t, out.Err, ErrTransient)
	assert.True(t, out.Retryable())
	assert.Equal(t, model.StatusProcessing, f.record(t).Status)

	// 数据库恢复后，重新投递会把记录带到终态
	f.repo.failErr = nil
	f.inferrer.Response = apple
	out = f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.NoError(t, out.Err)
	assert.Equal(t, model.StatusSuccess, f.record(t).Status)
}

func TestOnObjectCreated_CancelLeavesProcessing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	ctx, cancel := context.WithCancel(context.Background())
	f.inferrer.Fn = func(ctx context.Context, _ []byte, _ string) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	out := f.proc.OnObjectCreated(ctx, bucket, f.rawKey())
	require.ErrorIs(t, out.Err, context.Canceled)
	assert.NotErrorIs(t, out.Err, ErrFailureRecorded)
	assert.Equal(t, model.StatusProcessing, out.Status)

	rec := f.record(t)
	assert.Equal(t, model.StatusProcessing, rec.Status)
	assert.Empty(t, rec.FailureReason)
}

func TestOnObjectCreated_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Response = `{"items":[
		{"name":"Burger","calories":550,"protein":25,"carbs":40,"fat":30},
		{"name":"Fries","calories":365,"protein":4,"carbs":48,"fat":17}
	]}`

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
			assert.NoError(t, out.Err)
		}()
	}
	wg.Wait()

	assert.Equal(t, model.StatusSuccess, f.record(t).Status)
	assert.Len(t, f.items(t), 2)
}

func TestOnObjectCreated_MalformedKeyWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")

	for _, key := range []string{"lunch.jpg", "alice/not-a-uuid-lunch.jpg", "alice/x/" + uploadID + "-a.jpg", "%zz"} {
		out := f.proc.OnObjectCreated(context.Background(), bucket, key)
		require.ErrorIs(t, out.Err, ErrMalformedKey, key)
		assert.False(t, out.Retryable())
	}
	assert.Zero(t, f.repo.Writes())
	assert.Zero(t, f.store.Gets())
	assert.Empty(t, f.inferrer.Calls())
	assert.Equal(t, model.StatusPending, f.record(t).Status)
}

func TestOnObjectCreated_UnknownOrForeignRecord(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")

	// 对象键中的所有者与记录不符
	foreign := url.QueryEscape(model.BuildObjectKey("bob", uploadID, "my lunch.jpg"))
	out := f.proc.OnObjectCreated(context.Background(), bucket, foreign)
	require.ErrorIs(t, out.Err, ErrNotFound)
	assert.False(t, out.Retryable())

	missing := url.QueryEscape(model.BuildObjectKey(owner, "22222222-2222-4222-8222-222222222222", "x.jpg"))
	out = f.proc.OnObjectCreated(context.Background(), bucket, missing)
	require.ErrorIs(t, out.Err, ErrNotFound)

	assert.Zero(t, f.repo.Writes())
	assert.Empty(t, f.inferrer.Calls())
	assert.Equal(t, model.StatusPending, f.record(t).Status)
}

func TestOnObjectCreated_MalformedOutput(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Response = `{"foodItems":[{"name":"Apple","calories":95,"protein":0,"carbs":25,"fat":0}]}`

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrValidation)
	assert.False(t, out.Retryable())
	assert.Equal(t, model.StatusFailed, out.Status)

	rec := f.record(t)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, model.ReasonMalformedOutput, rec.FailureReason)
	assert.Empty(t, f.items(t))
	assert.Zero(t, f.indexer.calls)
}

func TestOnObjectCreated_PartiallyInvalidOutputStoresNothing(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Response = `{"items":[
		{"name":"Apple","calories":95,"protein":0,"carbs":25,"fat":0},
		{"name":"Pear","protein":1,"carbs":27,"fat":0}
	]}`

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrValidation)
	assert.Empty(t, f.items(t))
}

func TestOnObjectCreated_EmptyItemsIsSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Response = `{"items":[]}`

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.NoError(t, out.Err)
	assert.Equal(t, 0, out.ItemCount)
	assert.Equal(t, model.StatusSuccess, f.record(t).Status)
	assert.Empty(t, f.items(t))
}

func TestOnObjectCreated_InferenceFailure(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Fn = func(context.Context, []byte, string) (string, error) {
		return "", errors.New("429 too many requests")
	}

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrInference)
	assert.ErrorIs(t, out.Err, ErrFailureRecorded)
	assert.False(t, out.Retryable())
	assert.Equal(t, model.StatusFailed, out.Status)

	rec := f.record(t)
	assert.Equal(t, model.StatusFailed, rec.Status)
	assert.Equal(t, model.ReasonInferenceFailed, rec.FailureReason)
}

func TestOnObjectCreated_InferenceTimeout(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Fn = func(ctx context.Context, _ []byte, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.proc = NewProcessor(f.repo, f.store, f.inferrer, nil, 20*time.Millisecond)

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrInference)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.Equal(t, model.ReasonInferenceFailed, f.record(t).FailureReason)
}

func TestOnObjectCreated_ObjectProblems(t *testing.T) {
	t.Run("empty object", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, []byte{}, "image/jpeg")
		out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
		require.ErrorIs(t, out.Err, ErrInvalidObject)
		assert.False(t, out.Retryable())
		assert.Equal(t, model.ReasonEmptyObject, f.record(t).FailureReason)
		assert.Empty(t, f.inferrer.Calls())
	})
	t.Run("missing object", func(t *testing.T) {
		f := newFixture(t)
		f.seed(t, nil, "")
		out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
		require.ErrorIs(t, out.Err, ErrTransient)
		assert.False(t, out.Retryable())
		assert.Equal(t, model.ReasonObjectFetchFailed, f.record(t).FailureReason)
	})
}

func TestOnObjectCreated_LateFailureDoesNotOverwriteSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.inferrer.Fn = func(ctx context.Context, _ []byte, _ string) (string, error) {
		// 另一个消费者在本次推理期间完成了处理
		require.NoError(t, f.repo.UploadRepository.ReplaceItemsAndMarkSuccess(ctx, uploadID, owner, nil))
		return "", errors.New("upstream 503")
	}

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.ErrorIs(t, out.Err, ErrInference)
	assert.NotErrorIs(t, out.Err, ErrFailureRecorded)

	rec := f.record(t)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Empty(t, rec.FailureReason)
}

func TestOnObjectCreated_MimeFallback(t *testing.T) {
	f := newFixture(t)
	pngKey := model.BuildObjectKey(owner, uploadID, "plate.png")
	require.NoError(t, f.repo.Create(context.Background(), &model.UploadFile{
		ID: uploadID, OwnerID: owner, Name: "plate.png", ObjectKey: pngKey, Status: model.StatusPending,
	}))
	f.store.Put(pngKey, []byte("png-bytes"), "application/octet-stream")

	out := f.proc.OnObjectCreated(context.Background(), bucket, url.QueryEscape(pngKey))
	require.NoError(t, out.Err)
	calls := f.inferrer.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "image/png", calls[0].MimeType)
}

func TestOnObjectCreated_IndexerFailureIgnored(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.indexer.err = errors.New("es down")

	out := f.proc.OnObjectCreated(context.Background(), bucket, f.rawKey())
	require.NoError(t, out.Err)
	assert.Equal(t, model.StatusSuccess, f.record(t).Status)
	assert.Len(t, f.indexer.items, 1)
}

func TestProcess_Event(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")

	ev := tasks.S3Event{Records: []tasks.S3Record{
		{EventName: "s3:ObjectCreated:Put"},
		{EventName: "s3:ObjectCreated:Put"},
		{EventName: "s3:ObjectRemoved:Delete"},
	}}
	ev.Records[0].S3.Bucket.Name = bucket
	ev.Records[0].S3.Object.Key = f.rawKey()
	ev.Records[1].S3.Bucket.Name = bucket
	ev.Records[1].S3.Object.Key = "garbage"
	ev.Records[2].S3.Bucket.Name = bucket
	ev.Records[2].S3.Object.Key = f.rawKey()

	err := f.proc.Process(context.Background(), ev)
	require.ErrorIs(t, err, ErrMalformedKey)
	assert.False(t, Retryable(err))
	assert.Equal(t, model.StatusSuccess, f.record(t).Status)

	require.NoError(t, f.proc.Process(context.Background(), tasks.S3Event{}))
}

func TestProcess_PrefersRetryableErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t, []byte("jpeg-bytes"), "image/jpeg")
	f.repo.failErr = errors.New("db down")
	f.inferrer.Response = "not json"

	ev := tasks.S3Event{Records: make([]tasks.S3Record, 2)}
	for i, key := range []string{"garbage", f.rawKey()} {
		ev.Records[i].EventName = "s3:ObjectCreated:Put"
		ev.Records[i].S3.Bucket.Name = bucket
		ev.Records[i].S3.Object.Key = key
	}

	err := f.proc.Process(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, Retryable(err))
	assert.NotErrorIs(t, err, ErrMalformedKey)
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrTransient))
	assert.True(t, Retryable(ErrInference))
	assert.True(t, Retryable(errors.Join(ErrValidation, ErrTransient)))
	assert.False(t, Retryable(fmt.Errorf("%w: %w", ErrInference, ErrFailureRecorded)))
	assert.False(t, Retryable(ErrValidation))
	assert.False(t, Retryable(ErrMalformedKey))
	assert.False(t, Retryable(ErrNotFound))
	assert.False(t, Retryable(nil))
}
