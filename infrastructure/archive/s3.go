// Package archive writes finished wagers to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"wagerbot/domain/entities"
	"wagerbot/domain/interfaces"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	log "github.com/sirupsen/logrus"
)

// ClientConfig holds the connection settings for an S3-compatible store
type ClientConfig struct {
	// Endpoint is left empty for AWS; set it for MinIO, R2 and similar providers
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	UseSSL         bool
	ForcePathStyle bool
}

// putObjectAPI is the part of *s3.Client the archiver needs
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver stores one JSON document per wager
type S3Archiver struct {
	client putObjectAPI
	bucket string
}

// New creates an archiver from the configuration
func New(ctx context.Context, cfg ClientConfig) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint, cfg.UseSSL)
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		opts = append(opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{client: s3.NewFromConfig(awsCfg, opts...), bucket: cfg.Bucket}, nil
}

var _ interfaces.Archiver = (*S3Archiver)(nil)

// ArchiveWager uploads the wager and its settlement, returning the object key.
// Keys are derived from the wager so re-archiving overwrites the same object.
func (a *S3Archiver) ArchiveWager(ctx context.Context, wager *entities.Wager) (string, error) {
	key := ObjectKey(wager)

	body, err := json.Marshal(newWagerRecord(wager))
	if err != nil {
		return "", fmt.Errorf("archive: marshal wager %s: %w", wager.ID, err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("archive: put object %s: %w", key, err)
	}

	log.WithFields(log.Fields{
		"wagerID": wager.ID,
		"bucket":  a.bucket,
		"key":     key,
		"bytes":   len(body),
	}).Info("Archived wager")

	return key, nil
}

// ObjectKey partitions archived wagers by the month they were created
func ObjectKey(wager *entities.Wager) string {
	return fmt.Sprintf("archive/wagers/%s/%s.json", wager.CreatedAt.UTC().Format("2006-01"), wager.ID)
}

type settlementRecord struct {
	State           string     `json:"state"`
	Destination     string     `json:"destination"`
	NativeAmount    string     `json:"native_amount"`
	SwapTxHash      *string    `json:"swap_tx_hash,omitempty"`
	SwapToAmount    *string    `json:"swap_to_amount,omitempty"`
	SwapMocked      bool       `json:"swap_mocked"`
	PayoutSignature *string    `json:"payout_signature,omitempty"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
}

type wagerRecord struct {
	ID                      string            `json:"id"`
	Description             string            `json:"description"`
	Participants            []string          `json:"participants"`
	Amounts                 map[string]string `json:"amounts"`
	Asset                   string            `json:"asset"`
	Status                  string            `json:"status"`
	EscrowAddress           string            `json:"escrow_address"`
	Deadline                *time.Time        `json:"deadline,omitempty"`
	Winner                  *string           `json:"winner,omitempty"`
	Outcome                 *string           `json:"outcome,omitempty"`
	ResolvedBy              *string           `json:"resolved_by,omitempty"`
	VerificationConfidence  *float64          `json:"verification_confidence,omitempty"`
	VerificationExplanation *string           `json:"verification_explanation,omitempty"`
	CreatedAt               time.Time         `json:"created_at"`
	CompletedAt             *time.Time        `json:"completed_at,omitempty"`
	Settlement              *settlementRecord `json:"settlement,omitempty"`
}

// newWagerRecord flattens the wager; the escrow signing reference is never written out
func newWagerRecord(w *entities.Wager) wagerRecord {
	record := wagerRecord{
		ID:            w.ID,
		Description:   w.Description,
		Participants:  w.Participants,
		Amounts:       make(map[string]string, len(w.Amounts)),
		Asset:         w.Asset,
		Status:        string(w.Status),
		EscrowAddress: w.Escrow.PublicIdentity,
		Deadline:      w.Deadline,
		Winner:        w.Winner,
		Outcome:       w.Outcome,
		ResolvedBy:    w.ResolvedBy,
		CreatedAt:     w.CreatedAt,
		CompletedAt:   w.CompletedAt,
	}
	for participant, amount := range w.Amounts {
		record.Amounts[participant] = amount.String()
	}
	if w.Verification != nil {
		record.VerificationConfidence = &w.Verification.Confidence
		record.VerificationExplanation = &w.Verification.Explanation
	}
	if s := w.Settlement; s != nil {
		sr := &settlementRecord{
			State:           string(s.State),
			Destination:     s.Destination,
			NativeAmount:    s.NativeAmount.String(),
			SwapTxHash:      s.SwapTxHash,
			SwapMocked:      s.SwapMocked,
			PayoutSignature: s.PayoutSignature,
			PaidAt:          s.PaidAt,
		}
		if s.SwapToAmount.Valid {
			to := s.SwapToAmount.Decimal.String()
			sr.SwapToAmount = &to
		}
		record.Settlement = sr
	}
	return record
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	scheme := "http"
	if useSSL {
		scheme = "https"
	}
	return scheme + "://" + endpoint
}
