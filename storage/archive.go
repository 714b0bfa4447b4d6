// Package storage archives accepted transcripts to an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"

	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/models"
)

// ObjectAPI is the part of the S3 client the archive uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Record is the archived JSON document.
type Record struct {
	RequestID      string             `json:"request_id"`
	TabID          string             `json:"tab_id"`
	URL            string             `json:"url"`
	Platform       string             `json:"platform"`
	Range          *models.SliceRange `json:"range,omitempty"`
	SourceLangCode string             `json:"source_lang_code,omitempty"`
	Transcript     string             `json:"transcript"`
	Description    string             `json:"description,omitempty"`
	TokenEstimate  int                `json:"estimated_token_count,omitempty"`
	ArchivedAt     time.Time          `json:"archived_at"`
}

type Archive struct {
	client ObjectAPI
	bucket string
}

func NewArchive(cfg config.ArchiveConfig) (*Archive, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to load SDK config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewArchiveWithClient(client, cfg.Bucket), nil
}

func NewArchiveWithClient(client ObjectAPI, bucket string) *Archive {
	return &Archive{client: client, bucket: bucket}
}

func key(requestID string) string {
	return fmt.Sprintf("transcripts/%s.json", requestID)
}

// Save writes an accepted acquisition under transcripts/{request id}.json.
func (a *Archive) Save(ctx context.Context, acq *models.Acquisition) error {
	data, err := json.Marshal(Record{
		RequestID:      acq.ID,
		TabID:          acq.TabID,
		URL:            acq.URL,
		Platform:       acq.Platform,
		Range:          acq.Range,
		SourceLangCode: acq.SourceLangCode,
		Transcript:     acq.Transcript,
		Description:    acq.Description,
		TokenEstimate:  acq.TokenEstimate,
		ArchivedAt:     time.Now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "failed to marshal record")
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key(acq.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return errors.Wrap(err, "failed to save to archive")
	}
	return nil
}

func (a *Archive) Get(ctx context.Context, requestID string) (*Record, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key(requestID)),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get from archive")
	}
	defer out.Body.Close()

	var rec Record
	if err := json.NewDecoder(io.LimitReader(out.Body, 32<<20)).Decode(&rec); err != nil {
		return nil, errors.Wrap(err, "failed to decode record")
	}
	return &rec, nil
}
