// Package job turns remote entries and assets into publish jobs.
package job

import (
	"log/slog"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/stack"
)

// Kind is the type of record a job targets.
type Kind string

const (
	KindEntry Kind = "entry"
	KindAsset Kind = "asset"
)

// Action is the publish event a job issues.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionUnpublish Action = "unpublish"
)

// Origin distinguishes direct bulk publishes from synchronize re-publishes.
type Origin int

const (
	OriginPublish Origin = iota
	OriginSync
)

// ContentTypeRef identifies the content type of an entry job.
type ContentTypeRef struct {
	UID   string
	Title string
}

// SyncJob is one publish or unpublish unit of work. Jobs are values and are
// never modified after creation.
type SyncJob struct {
	Kind         Kind
	UID          string
	Title        string
	Version      int
	ContentType  *ContentTypeRef
	Locale       string
	Environments []string
	Action       Action
	Restore      bool
	BulkSync     bool
}

// Target describes where jobs are sent.
type Target struct {
	Locale       string
	Environments []string
	Action       Action
	Origin       Origin
}

func (t Target) apply(j SyncJob) SyncJob {
	j.Locale = t.Locale
	j.Environments = append([]string(nil), t.Environments...)
	j.Action = t.Action
	if t.Origin == OriginSync {
		j.Restore = true
		j.BulkSync = true
	}
	return j
}

// FromEntry builds an entry job. For synchronize jobs the version comes from
// the publish record of the first target environment when one exists.
func FromEntry(e stack.Entry, ct stack.ContentType, t Target) (SyncJob, error) {
	if e.UID == "" {
		return SyncJob{}, apperr.Newf(apperr.CodeMalformedRecord, "job.entry", "entry of content type %q has no uid", ct.UID)
	}
	title := e.Title(ct.EntryTitleField)
	if title == "" {
		title = e.UID
	}
	version := e.Version
	if t.Origin == OriginSync {
		if v := recordVersion(e.PublishDetails, t); v > 0 {
			version = v
		}
	}
	j := SyncJob{
		Kind:        KindEntry,
		UID:         e.UID,
		Title:       title,
		Version:     version,
		ContentType: &ContentTypeRef{UID: ct.UID, Title: ct.Title},
	}
	return t.apply(j), nil
}

// FromAsset builds an asset job. Assets always carry their current version.
func FromAsset(a stack.Asset, t Target) (SyncJob, error) {
	if a.UID == "" {
		return SyncJob{}, apperr.New(apperr.CodeMalformedRecord, "job.asset", "asset has no uid")
	}
	title := a.Filename
	if title == "" {
		title = a.Title
	}
	if title == "" {
		title = a.UID
	}
	j := SyncJob{
		Kind:    KindAsset,
		UID:     a.UID,
		Title:   title,
		Version: a.Version,
	}
	return t.apply(j), nil
}

func recordVersion(details stack.PublishDetails, t Target) int {
	for _, env := range t.Environments {
		for _, r := range details {
			if r.Environment == env && r.Locale == t.Locale {
				return r.Version
			}
		}
	}
	return 0
}

// Entries normalizes entries, skipping malformed ones with a warning. It
// returns the jobs and the number skipped.
func Entries(entries []stack.Entry, ct stack.ContentType, t Target, logger *slog.Logger) ([]SyncJob, int) {
	if logger == nil {
		logger = slog.Default()
	}
	jobs := make([]SyncJob, 0, len(entries))
	skipped := 0
	for _, e := range entries {
		j, err := FromEntry(e, ct, t)
		if err != nil {
			skipped++
			logger.Warn("skipping malformed entry", "content_type", ct.UID, "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, skipped
}

// Assets normalizes assets, skipping malformed ones with a warning.
func Assets(assets []stack.Asset, t Target, logger *slog.Logger) ([]SyncJob, int) {
	if logger == nil {
		logger = slog.Default()
	}
	jobs := make([]SyncJob, 0, len(assets))
	skipped := 0
	for _, a := range assets {
		j, err := FromAsset(a, t)
		if err != nil {
			skipped++
			logger.Warn("skipping malformed asset", "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, skipped
}
