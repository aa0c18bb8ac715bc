package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minioEvent = `{
  "EventName": "s3:ObjectCreated:Put",
  "Key": "food/alice/7c9e6679-7425-40de-944b-e07fc1f90ae7-my+lunch.jpg",
  "Records": [
    {
      "eventVersion": "2.0",
      "eventSource": "minio:s3",
      "eventName": "s3:ObjectCreated:Put",
      "eventTime": "2026-10-19T08:00:00.000Z",
      "s3": {
        "bucket": {"name": "food"},
        "object": {"key": "alice/7c9e6679-7425-40de-944b-e07fc1f90ae7-my+lunch.jpg", "size": 1024, "contentType": "image/jpeg"}
      }
    },
    {
      "eventName": "s3:ObjectRemoved:Delete",
      "s3": {"bucket": {"name": "food"}, "object": {"key": "alice/old.jpg"}}
    }
  ]
}`

func TestParseS3Event(t *testing.T) {
	ev, err := ParseS3Event([]byte(minioEvent))
	require.NoError(t, err)
	require.Len(t, ev.Records, 2)

	created := ev.ObjectCreated()
	require.Len(t, created, 1)
	assert.Equal(t, "food", created[0].Bucket)
	assert.Equal(t, "alice/7c9e6679-7425-40de-944b-e07fc1f90ae7-my+lunch.jpg", created[0].Key)
	assert.Equal(t, "food/alice/7c9e6679-7425-40de-944b-e07fc1f90ae7-my+lunch.jpg", ev.PartitionKey())
}

func TestParseS3Event_AWSAndInvalid(t *testing.T) {
	ev, err := ParseS3Event([]byte(`{"Records":[{"eventName":"ObjectCreated:CompleteMultipartUpload","s3":{"bucket":{"name":"b"},"object":{"key":"k"}}}]}`))
	require.NoError(t, err)
	assert.Equal(t, []ObjectCreated{{Bucket: "b", Key: "k"}}, ev.ObjectCreated())

	_, err = ParseS3Event([]byte(`not json`))
	assert.Error(t, err)

	ev, err = ParseS3Event([]byte(`{"Event":"s3:TestEvent"}`))
	require.NoError(t, err)
	assert.Empty(t, ev.ObjectCreated())
}
