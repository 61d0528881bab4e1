// Package ingest composes the ingestion sink: a primary entity store plus an
// optional raw archive and change notification.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scanfleet/internal/metrics"
	"github.com/JakeFAU/scanfleet/internal/scan"
)

// Store persists the entities of a scan. Implementations must be idempotent
// on (entity id, last seen) and safe for concurrent use.
type Store interface {
	SaveScan(ctx context.Context, result scan.ScanResult) error
}

// Notification is the message published after a scan is stored.
type Notification struct {
	ScanID           string    `json:"scan_id"`
	Location         string    `json:"location"`
	ScannedAt        time.Time `json:"scanned_at"`
	Creatures        int       `json:"creatures"`
	PointsOfInterest int       `json:"points_of_interest"`
	Structures       int       `json:"structures"`
	ArchiveURI       string    `json:"archive_uri,omitempty"`
}

// Config controls the optional archive and notification steps.
type Config struct {
	ArchivePrefix string
	Topic         string
}

// Pipeline implements scan.Sink.
type Pipeline struct {
	store     Store
	archive   scan.BlobStore
	publisher scan.Publisher
	cfg       Config
	logger    *zap.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithArchive writes each result as JSON to blobs.
func WithArchive(blobs scan.BlobStore) Option {
	return func(p *Pipeline) { p.archive = blobs }
}

// WithPublisher announces each stored result.
func WithPublisher(pub scan.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPipeline builds a Pipeline around the required primary store.
func NewPipeline(store Store, cfg Config, opts ...Option) (*Pipeline, error) {
	if store == nil {
		return nil, scan.NewConfigurationError("ingest pipeline requires a store")
	}
	p := &Pipeline{store: store, cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	if p.publisher != nil && strings.TrimSpace(cfg.Topic) == "" {
		return nil, scan.NewConfigurationError("ingest notification requires a topic")
	}
	return p, nil
}

// Ingest stores result, then archives and announces it. Only a primary store
// failure is returned; archive and publish failures are logged.
func (p *Pipeline) Ingest(ctx context.Context, result scan.ScanResult) error {
	if err := p.store.SaveScan(ctx, result); err != nil {
		return &scan.IngestionError{ScanID: result.ID, Err: err}
	}

	uri := ""
	if p.archive != nil {
		var err error
		uri, err = p.archiveResult(ctx, result)
		if err != nil {
			p.logger.Warn("archive scan failed", zap.String("scan_id", result.ID), zap.Error(err))
		}
	}

	if p.publisher != nil {
		msg := Notification{
			ScanID:           result.ID,
			Location:         result.Location.String(),
			ScannedAt:        result.ScannedAt,
			Creatures:        len(result.Creatures),
			PointsOfInterest: len(result.PointsOfInterest),
			Structures:       len(result.Structures),
			ArchiveURI:       uri,
		}
		if _, err := p.publisher.Publish(ctx, p.cfg.Topic, msg); err != nil {
			p.logger.Warn("publish scan notification failed", zap.String("scan_id", result.ID), zap.Error(err))
		}
	}
	return nil
}

func (p *Pipeline) archiveResult(ctx context.Context, result scan.ScanResult) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode scan result: %w", err)
	}
	uri, err := p.archive.PutObject(ctx, ArchivePath(p.cfg.ArchivePrefix, result), "application/json", bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("put archive object: %w", err)
	}
	return uri, nil
}

// ArchivePath returns prefix/YYYY/MM/DD/<scan id>.json for result.
func ArchivePath(prefix string, result scan.ScanResult) string {
	ts := result.ScannedAt.UTC()
	id := result.ID
	if id == "" {
		id = fmt.Sprintf("%d", ts.UnixNano())
	}
	day := ts.Format("2006/01/02")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", day, id)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, day, id)
}

// Instrument wraps sink with ingest metrics.
func Instrument(sink scan.Sink) scan.Sink {
	return scan.SinkFunc(func(ctx context.Context, result scan.ScanResult) error {
		if err := sink.Ingest(ctx, result); err != nil {
			metrics.ObserveIngest("error")
			return err
		}
		metrics.ObserveIngest("ok")
		metrics.ObserveIngestEntities("creature", len(result.Creatures))
		metrics.ObserveIngestEntities("point_of_interest", len(result.PointsOfInterest))
		metrics.ObserveIngestEntities("structure", len(result.Structures))
		return nil
	})
}
