package dispatch

import (
	"context"

	"github.com/BadgerOps/stacksync/internal/job"
	"github.com/BadgerOps/stacksync/internal/stack"
)

// Publisher is the part of the API client that delivers publish events.
type Publisher interface {
	PublishEntry(ctx context.Context, event string, p stack.EntryPublish) error
	PublishAsset(ctx context.Context, event string, p stack.AssetPublish) error
}

// APISender delivers jobs through the publish endpoints.
type APISender struct {
	api Publisher
}

// NewAPISender wraps api as a Sender.
func NewAPISender(api Publisher) *APISender {
	return &APISender{api: api}
}

// Send issues the job's publish or unpublish event.
func (s *APISender) Send(ctx context.Context, j job.SyncJob) error {
	if j.Kind == job.KindAsset {
		return s.api.PublishAsset(ctx, string(j.Action), stack.AssetPublish{
			UID:          j.UID,
			Title:        j.Title,
			Locale:       j.Locale,
			Version:      j.Version,
			Environments: j.Environments,
			Restore:      j.Restore,
			BulkSync:     j.BulkSync,
		})
	}

	p := stack.EntryPublish{
		EntryUID:     j.UID,
		Title:        j.Title,
		Locale:       j.Locale,
		Version:      j.Version,
		Environments: j.Environments,
		Restore:      j.Restore,
		BulkSync:     j.BulkSync,
	}
	if j.ContentType != nil {
		p.ContentTypeUID = j.ContentType.UID
		p.ContentTypeTitle = j.ContentType.Title
	}
	return s.api.PublishEntry(ctx, string(j.Action), p)
}
