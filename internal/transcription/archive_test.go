package transcription

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockS3Client struct {
	puts []*s3.PutObjectInput
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.puts = append(m.puts, input)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiveStore(t *testing.T) {
	client := &mockS3Client{}
	archive := NewArchive(client, "callhelm-transcripts", nil)
	orgID := uuid.New()
	attemptID := uuid.New()

	tr := Transcript{Text: "hello", Segments: []Segment{{Speaker: "Agent", Text: "hello", End: 1}}}
	require.NoError(t, archive.Store(context.Background(), orgID, attemptID, "deepgram", "https://cdn.example/rec.mp3", tr))

	require.Len(t, client.puts, 1)
	put := client.puts[0]
	assert.Equal(t, "callhelm-transcripts", aws.ToString(put.Bucket))
	assert.True(t, strings.HasPrefix(aws.ToString(put.Key), "transcripts/v1/by-date/"))
	assert.True(t, strings.HasSuffix(aws.ToString(put.Key), attemptID.String()+".json"))

	body, err := io.ReadAll(put.Body)
	require.NoError(t, err)
	var record archiveRecord
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, "deepgram", record.Provider)
	assert.Equal(t, orgID.String(), record.OrganizationID)
	assert.Equal(t, "hello", record.Transcript.Text)
}

func TestArchiveDisabledWithoutBucket(t *testing.T) {
	client := &mockS3Client{}
	archive := NewArchive(client, "", nil)

	require.NoError(t, archive.Store(context.Background(), uuid.New(), uuid.New(), "deepgram", "", Transcript{}))
	assert.Empty(t, client.puts)
	assert.False(t, archive.Enabled())
}
