package engine

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BadgerOps/stacksync/internal/apperr"
)

// Command names a top-level operation.
type Command string

const (
	CommandSync      Command = "sync"
	CommandPublish   Command = "publish"
	CommandUnpublish Command = "unpublish"
)

// Mode selects which record kinds a run covers.
type Mode string

const (
	ModeAll          Mode = "all"
	ModeAssets       Mode = "assets"
	ModeContentTypes Mode = "content_types"
)

// IncludesAssets reports whether the mode covers assets.
func (m Mode) IncludesAssets() bool {
	return m == ModeAll || m == ModeAssets
}

// IncludesEntries reports whether the mode covers content type entries.
func (m Mode) IncludesEntries() bool {
	return m == ModeAll || m == ModeContentTypes
}

// Options is the normalized input of one run.
type Options struct {
	Environments     []string `validate:"required,min=1,dive,required"`
	Mode             Mode     `validate:"required,oneof=all assets content_types"`
	Language         string   `validate:"required"`
	ContentTypes     []string `validate:"dive,required"`
	SkipContentTypes []string `validate:"dive,required"`
	// Since limits synchronize to records published at or after it.
	Since *time.Time
	// Backup copies existing local content for Language before the run.
	Backup   bool
	Username string `validate:"required_with=Password"`
	Password string `validate:"required_with=Username"`
}

var validate = validator.New()

// Validate checks the options for cmd.
func (o Options) Validate(cmd Command) error {
	if err := validate.Struct(o); err != nil {
		return apperr.Wrap(apperr.CodeConfiguration, "engine.options", err)
	}
	if cmd == CommandSync && len(o.Environments) != 1 {
		return apperr.Newf(apperr.CodeConfiguration, "engine.options", "sync targets exactly one environment, got %d", len(o.Environments))
	}
	return nil
}

var confirmPattern = regexp.MustCompile(`(?i)(yes|y)`)

// ParseConfirm interprets a yes/no flag value. Any value containing "y" or
// "yes" is a yes; an empty value is a no.
func ParseConfirm(v string) bool {
	return v != "" && confirmPattern.MatchString(v)
}

// SplitList parses a comma-separated flag value, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseSince parses an RFC3339 timestamp. An empty value means no limit.
func ParseSince(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeConfiguration, "engine.since", fmt.Errorf("invalid datetime %q: %w", v, err))
	}
	return &ts, nil
}
