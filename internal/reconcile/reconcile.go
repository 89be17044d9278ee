// Package reconcile narrows remote collections to the work set of a run.
package reconcile

import (
	"time"

	"github.com/BadgerOps/stacksync/internal/apperr"
	"github.com/BadgerOps/stacksync/internal/config"
	"github.com/BadgerOps/stacksync/internal/stack"
)

// Selection is the effective content type set and the include uids that did
// not match any remote content type.
type Selection struct {
	Types   []stack.ContentType
	Dropped []string
}

// ContentTypes computes (include, or all when include is empty) minus exclude,
// restricted to uids present in all. The result is deduplicated and keeps the
// order of all.
func ContentTypes(all []stack.ContentType, include, exclude []string) Selection {
	known := make(map[string]bool, len(all))
	for _, ct := range all {
		known[ct.UID] = true
	}

	var wanted map[string]bool
	var dropped []string
	if len(include) > 0 {
		wanted = make(map[string]bool, len(include))
		for _, uid := range include {
			if !known[uid] {
				if !contains(dropped, uid) {
					dropped = append(dropped, uid)
				}
				continue
			}
			wanted[uid] = true
		}
	}

	skip := make(map[string]bool, len(exclude))
	for _, uid := range exclude {
		skip[uid] = true
	}

	seen := make(map[string]bool, len(all))
	types := []stack.ContentType{}
	for _, ct := range all {
		if seen[ct.UID] || skip[ct.UID] {
			continue
		}
		if wanted != nil && !wanted[ct.UID] {
			continue
		}
		seen[ct.UID] = true
		types = append(types, ct)
	}
	return Selection{Types: types, Dropped: dropped}
}

// CheckLocale returns the configured language for locale, or a configuration
// error when it is not configured.
func CheckLocale(cfg *config.Config, locale string) (config.Language, error) {
	lang, ok := cfg.Language(locale)
	if !ok {
		return config.Language{}, apperr.Newf(apperr.CodeConfiguration, "reconcile.locale", "language %q is not configured", locale)
	}
	return lang, nil
}

// HasPublishRecord reports whether details contain a record for env and locale.
func HasPublishRecord(details stack.PublishDetails, env, locale string) bool {
	_, ok := MatchingRecord(details, env, locale)
	return ok
}

// MatchingRecord returns the first record for env and locale.
func MatchingRecord(details stack.PublishDetails, env, locale string) (stack.PublishRecord, bool) {
	for _, r := range details {
		if r.Environment == env && r.Locale == locale {
			return r, true
		}
	}
	return stack.PublishRecord{}, false
}

// publishedSince reports whether some record for env and locale is at or
// after since. A nil since accepts everything.
func publishedSince(details stack.PublishDetails, env, locale string, since *time.Time) bool {
	if since == nil {
		return true
	}
	for _, r := range details {
		if r.Environment == env && r.Locale == locale && !r.Time.Before(*since) {
			return true
		}
	}
	return false
}

// EligibleEntries keeps entries published to env in locale at or after since.
func EligibleEntries(entries []stack.Entry, env, locale string, since *time.Time) []stack.Entry {
	if since == nil {
		return entries
	}
	out := make([]stack.Entry, 0, len(entries))
	for _, e := range entries {
		if publishedSince(e.PublishDetails, env, locale, since) {
			out = append(out, e)
		}
	}
	return out
}

// EligibleAssets keeps assets published to env in locale at or after since.
func EligibleAssets(assets []stack.Asset, env, locale string, since *time.Time) []stack.Asset {
	if since == nil {
		return assets
	}
	out := make([]stack.Asset, 0, len(assets))
	for _, a := range assets {
		if publishedSince(a.PublishDetails, env, locale, since) {
			out = append(out, a)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
