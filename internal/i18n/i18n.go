// Package i18n renders user-facing messages in English or Japanese. Message
// catalogs are embedded; the request language travels in the context.
package i18n

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.json
var catalogs embed.FS

var (
	bundle *i18n.Bundle
	// fallback serves contexts without a request localizer.
	fallback *i18n.Localizer
)

// Init loads every embedded catalog; lang is used when a message is missing
// from the requested language.
func Init(lang string) error {
	tag, err := language.Parse(lang)
	if err != nil {
		return fmt.Errorf("parse language %q: %w", lang, err)
	}
	b := i18n.NewBundle(tag)
	b.RegisterUnmarshalFunc("json", json.Unmarshal)

	files, err := fs.Glob(catalogs, "locales/*.json")
	if err != nil {
		return err
	}
	for _, f := range files {
		mf, err := b.LoadMessageFileFS(catalogs, f)
		if err != nil {
			return fmt.Errorf("load catalog %s: %w", f, err)
		}
		slog.Debug("loaded catalog", "file", f, "lang", mf.Tag, "messages", len(mf.Messages))
	}

	bundle = b
	fallback = i18n.NewLocalizer(b, tag.String())
	return nil
}

// NewLocalizer returns a localizer for languages in preference order. Each
// entry may be a tag or a whole Accept-Language value.
func NewLocalizer(langs ...string) *i18n.Localizer {
	return i18n.NewLocalizer(bundle, langs...)
}

// Languages lists the languages that have a catalog.
func Languages() []language.Tag {
	return bundle.LanguageTags()
}

type localizerKey struct{}

// WithLocalizer attaches loc to ctx.
func WithLocalizer(ctx context.Context, loc *i18n.Localizer) context.Context {
	return context.WithValue(ctx, localizerKey{}, loc)
}

func localize(ctx context.Context, cfg *i18n.LocalizeConfig) string {
	loc, ok := ctx.Value(localizerKey{}).(*i18n.Localizer)
	if !ok {
		loc = fallback
	}
	s, err := loc.Localize(cfg)
	if err != nil {
		slog.Warn("missing translation", "id", cfg.MessageID, "error", err)
		return cfg.MessageID
	}
	return s
}

// T returns the message, or msgID itself when no catalog has it.
func T(ctx context.Context, msgID string) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID})
}

// Td fills the message template with data.
func Td(ctx context.Context, msgID string, data map[string]any) string {
	return localize(ctx, &i18n.LocalizeConfig{MessageID: msgID, TemplateData: data})
}

// Tp picks the plural form for count, exposed to the template as {{.Count}}.
func Tp(ctx context.Context, msgID string, count int) string {
	return localize(ctx, &i18n.LocalizeConfig{
		MessageID:    msgID,
		PluralCount:  count,
		TemplateData: map[string]any{"Count": count},
	})
}
