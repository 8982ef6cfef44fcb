package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/Systemsaholic/call-helm-sub003/pkg/logging"
)

// S3API is the subset of the S3 client used by the archive.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archive stores completed transcripts in S3 for compliance retention. When
// no bucket is configured all operations are no-ops.
type Archive struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
}

func NewArchive(s3Client S3API, bucket string, logger *logging.Logger) *Archive {
	if logger == nil {
		logger = logging.Default()
	}
	return &Archive{bucket: bucket, s3Client: s3Client, logger: logger}
}

// Enabled reports whether archival is configured.
func (a *Archive) Enabled() bool {
	return a != nil && a.bucket != "" && a.s3Client != nil
}

// archiveRecord is the JSON document written per transcript.
type archiveRecord struct {
	AttemptID      string     `json:"attempt_id"`
	OrganizationID string     `json:"organization_id"`
	Provider       string     `json:"provider"`
	RecordingURL   string     `json:"recording_url"`
	Transcript     Transcript `json:"transcript"`
	ArchivedAt     time.Time  `json:"archived_at"`
}

// Store writes one transcript as JSON under a date-partitioned key.
func (a *Archive) Store(ctx context.Context, orgID, attemptID uuid.UUID, provider, recordingURL string, t Transcript) error {
	if !a.Enabled() {
		return nil
	}

	now := time.Now().UTC()
	record := archiveRecord{
		AttemptID:      attemptID.String(),
		OrganizationID: orgID.String(),
		Provider:       provider,
		RecordingURL:   recordingURL,
		Transcript:     t,
		ArchivedAt:     now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("transcription: marshal archive record: %w", err)
	}

	key := fmt.Sprintf("transcripts/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), attemptID)

	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("transcription: s3 put %s: %w", key, err)
	}

	a.logger.Info("transcript archived", "attempt_id", attemptID, "s3_key", key, "provider", provider)
	return nil
}
