package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"github.com/cryptoladder/engine/internal/stepstore"
)

// Archive writes a terminally-failed step's payload to S3 for forensic
// replay, a dead-letter destination distinct from the Sink notification
// path — an operator can grep archived objects without re-deriving state
// from the step table after it's been pruned.
type Archive struct {
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

func NewArchive(sess *session.Session, bucket, prefix string) *Archive {
	return &Archive{
		uploader: s3manager.NewUploader(sess),
		bucket:   bucket,
		prefix:   prefix,
	}
}

type archivedStep struct {
	Step      *stepstore.Step `json:"step"`
	ArchivedAt time.Time      `json:"archived_at"`
}

// Put uploads step's final state as a JSON object keyed by its id, so an
// operator can inspect a terminally failed step later. Its caller is the
// repeater task internal/repeater.ArchiveFailedStep; the job harness and
// dispatcher do not call it.
func (a *Archive) Put(ctx context.Context, step *stepstore.Step) error {
	body, err := json.Marshal(archivedStep{Step: step, ArchivedAt: time.Now()})
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s/%d.json", a.prefix, step.BlockUUID, step.ID)
	_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	return err
}
