package s3archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/botfleet/internal/domain"
)

// batchSize bounds how many fills one archive object holds.
const batchSize = 5000

// Archiver moves fills older than the retention window out of the trade
// store and into object storage as JSON Lines, one object per batch.
type Archiver struct {
	client    *Client
	uploader  *manager.Uploader
	store     domain.Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver that runs every interval and archives
// fills older than retention.
func NewArchiver(client *Client, store domain.Store, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Archiver{
		client:    client,
		uploader:  manager.NewUploader(client.s3),
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on a ticker until the context is cancelled. One archive
// pass runs immediately on startup to drain any backlog.
func (a *Archiver) Run(ctx context.Context) error {
	if err := a.ArchiveOnce(ctx); err != nil {
		a.logger.Error("archive pass failed", slog.Any("error", err))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := a.ArchiveOnce(ctx); err != nil {
				a.logger.Error("archive pass failed", slog.Any("error", err))
			}
		}
	}
}

// ArchiveOnce uploads and deletes every fill older than the retention
// cutoff, batch by batch. Rows are only deleted after their batch is
// safely in the bucket.
func (a *Archiver) ArchiveOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)

	for {
		trades, err := a.store.Trades().ListBefore(ctx, cutoff, batchSize)
		if err != nil {
			return fmt.Errorf("s3archive: list trades before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if len(trades) == 0 {
			return nil
		}

		key := objectKey(trades[0].Timestamp)
		if err := a.upload(ctx, key, trades); err != nil {
			return err
		}

		// The batch is ascending, so everything up to its last timestamp
		// is now in the bucket.
		last := trades[len(trades)-1].Timestamp.Add(time.Nanosecond)
		if _, err := a.store.Trades().DeleteBefore(ctx, last); err != nil {
			return fmt.Errorf("s3archive: delete archived trades: %w", err)
		}
		a.logger.Info("trades archived",
			slog.String("key", key),
			slog.Int("count", len(trades)))

		if len(trades) < batchSize {
			return nil
		}
	}
}

func (a *Archiver) upload(ctx context.Context, key string, trades []domain.Trade) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("s3archive: encode trade %s: %w", t.OrderID, err)
		}
	}

	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.bucket),
		Key:         aws.String(key),
		Body:        &buf,
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3archive: upload %s: %w", key, err)
	}
	return nil
}

// objectKey partitions archives by the batch's first fill date.
func objectKey(ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("trades/%04d/%02d/%02d/trades-%d.jsonl",
		ts.Year(), ts.Month(), ts.Day(), time.Now().UnixNano())
}
