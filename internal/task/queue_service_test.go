package task

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/docreview-api/internal/credential"
	"github.com/phrazzld/docreview-api/internal/domain"
	"github.com/phrazzld/docreview-api/internal/platform/blob"
	"github.com/phrazzld/docreview-api/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*QueueService, *MemoryTaskStore, *blob.Store) {
	t.Helper()
	s := NewMemoryTaskStore()
	files := blob.NewMemStore()
	q, err := NewQueueService(s, files, 0, logger.Discard())
	require.NoError(t, err)
	return q, s, files
}

func TestNewQueueService_Validation(t *testing.T) {
	_, err := NewQueueService(nil, blob.NewMemStore(), 0, nil)
	assert.Error(t, err)
	_, err = NewQueueService(NewMemoryTaskStore(), nil, 0, nil)
	assert.Error(t, err)
}

func TestQueueService_Enqueue(t *testing.T) {
	ctx := context.Background()
	q, s, files := newTestQueue(t)

	res, err := q.Enqueue(ctx, EnqueueRequest{
		Type:    TaskTypeSmallReview,
		APIKey:  "secret",
		Payload: reviewPayload(3),
		Files: []Upload{
			{FileName: "spec.txt", ProcessMode: domain.ProcessModeText, Data: []byte("hello world")},
			{FileName: "scan.pdf", ProcessMode: domain.ProcessModeImage, Images: [][]byte{[]byte("p0"), []byte("p1")}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, credential.Hash("secret"), res.APIKeyHash)
	assert.NotContains(t, res.APIKeyHash, "secret")
	assert.Equal(t, 1, res.QueueLength)

	stored, err := s.Get(ctx, res.TaskID)
	require.NoError(t, err)
	require.Len(t, stored.Files, 2)

	text := stored.Files[0]
	assert.Equal(t, res.TaskID.String()+"/"+text.ID, text.FilePath)
	assert.Equal(t, int64(11), text.FileSize)
	assert.Contains(t, text.MimeType, "text/plain")
	data, err := files.Read(ctx, text.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))

	img := stored.Files[1]
	assert.Equal(t, 2, img.ConvertedImageCount)
	data, err = files.Read(ctx, img.ImagePath(1))
	require.NoError(t, err)
	assert.Equal(t, "p1", string(data))

	res2, err := q.Enqueue(ctx, EnqueueRequest{Type: TaskTypeSmallReview, APIKey: "secret", Payload: reviewPayload(1)})
	require.NoError(t, err)
	assert.Equal(t, 2, res2.QueueLength)
}

func TestQueueService_EnqueueRejectsEmptyChecklist(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryTaskStore()
	files := &recordingFileStore{Store: blob.NewMemStore()}
	q, err := NewQueueService(s, files, 0, logger.Discard())
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, EnqueueRequest{
		Type:    TaskTypeSmallReview,
		APIKey:  "secret",
		Payload: reviewPayload(0),
		Files:   []Upload{{FileName: "a.txt", ProcessMode: domain.ProcessModeText, Data: []byte("x")}},
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeChecklistEmpty, domain.CodeOf(err))
	assert.Equal(t, 0, s.Len())
	assert.Zero(t, files.writes)
}

type recordingFileStore struct {
	*blob.Store
	writes int
}

func (r *recordingFileStore) Write(ctx context.Context, path string, data []byte) error {
	r.writes++
	return r.Store.Write(ctx, path, data)
}

func TestQueueService_EnqueueErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing api key", func(t *testing.T) {
		q, _, _ := newTestQueue(t)
		_, err := q.Enqueue(ctx, EnqueueRequest{Type: TaskTypeSmallReview, Payload: reviewPayload(1)})
		assert.Equal(t, domain.CodeAIConfigMissing, domain.CodeOf(err))
	})

	t.Run("store failure is wrapped", func(t *testing.T) {
		q, s, _ := newTestQueue(t)
		cause := errors.New("db down")
		s.SaveFn = func(context.Context, *AITask) error { return cause }

		_, err := q.Enqueue(ctx, EnqueueRequest{Type: TaskTypeSmallReview, APIKey: "k", Payload: reviewPayload(1)})
		var enqErr *EnqueueError
		require.ErrorAs(t, err, &enqErr)
		assert.Equal(t, "save task", enqErr.Step)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("image upload without images", func(t *testing.T) {
		q, s, _ := newTestQueue(t)
		_, err := q.Enqueue(ctx, EnqueueRequest{
			Type:    TaskTypeSmallReview,
			APIKey:  "k",
			Payload: reviewPayload(1),
			Files:   []Upload{{FileName: "x.pdf", ProcessMode: domain.ProcessModeImage}},
		})
		var enqErr *EnqueueError
		require.ErrorAs(t, err, &enqErr)
		assert.Equal(t, 0, s.Len())
	})
}

func TestQueueService_CompleteAndFail(t *testing.T) {
	ctx := context.Background()
	q, s, files := newTestQueue(t)

	enqueue := func() *EnqueueResult {
		res, err := q.Enqueue(ctx, EnqueueRequest{
			Type:    TaskTypeSmallReview,
			APIKey:  "k",
			Payload: reviewPayload(1),
			Files:   []Upload{{FileName: "a.txt", ProcessMode: domain.ProcessModeText, Data: []byte("x")}},
		})
		require.NoError(t, err)
		return res
	}

	t.Run("complete requires processing", func(t *testing.T) {
		res := enqueue()
		err := q.CompleteTask(ctx, res.TaskID)
		assert.ErrorIs(t, err, ErrTaskNotProcessing)
		require.NoError(t, q.RemoveTask(ctx, res.TaskID))
	})

	t.Run("complete deletes row and files", func(t *testing.T) {
		res := enqueue()
		task, err := q.Dequeue(ctx, res.APIKeyHash)
		require.NoError(t, err)
		require.NotNil(t, task)

		require.NoError(t, q.CompleteTask(ctx, task.ID))
		_, err = s.Get(ctx, task.ID)
		assert.Error(t, err)
		ok, err := files.Exists(ctx, task.Files[0].FilePath)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("fail deletes row", func(t *testing.T) {
		res := enqueue()
		task, err := q.Dequeue(ctx, res.APIKeyHash)
		require.NoError(t, err)
		require.NoError(t, q.FailTask(ctx, task.ID, "boom"))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("missing task is a no-op", func(t *testing.T) {
		assert.NoError(t, q.CompleteTask(ctx, uuid.New()))
		assert.NoError(t, q.FailTask(ctx, uuid.New(), "gone"))
		assert.NoError(t, q.RemoveTask(ctx, uuid.New()))
	})

	t.Run("dequeue on empty hash", func(t *testing.T) {
		task, err := q.Dequeue(ctx, "nothing-here")
		require.NoError(t, err)
		assert.Nil(t, task)
	})
}
