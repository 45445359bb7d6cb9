package config

import (
	"context"
	"time"
)

// Option changes a copy of the settings for the duration of one call.
type Option func(*Config)

func WithRetries(n int) Option {
	return func(c *Config) {
		c.Retry.NumRetries = n
		c.Swift.NumRetries = n
	}
}

func WithInitialSleep(d time.Duration) Option {
	return func(c *Config) { c.Retry.InitialSleep = d }
}

func WithS3UploadThreads(n int) Option {
	return func(c *Config) { c.S3Upload.ObjectThreads = n }
}

func WithS3SegmentSize(size string) Option {
	return func(c *Config) {
		c.S3Upload.SegmentSize = size
		c.S3Download.SegmentSize = size
	}
}

// WithSwiftSegmentSize sets the size above which swift uploads are split
// into segments, and whether the manifest is static.
func WithSwiftSegmentSize(size string, useSLO bool) Option {
	return func(c *Config) {
		c.SwiftUpload.SegmentSize = size
		c.SwiftUpload.UseSLO = useSLO
	}
}

func WithSwiftThreads(n int) Option {
	return func(c *Config) {
		c.SwiftUpload.ObjectThreads = n
		c.SwiftDownload.ObjectThreads = n
		c.SwiftDelete.ObjectThreads = n
	}
}

func WithSkipIdentical(skip bool) Option {
	return func(c *Config) {
		c.SwiftUpload.SkipIdentical = skip
		c.SwiftDownload.SkipIdentical = skip
		c.S3Download.SkipIdentical = skip
	}
}

func WithProgress(on bool) Option {
	return func(c *Config) { c.Progress = on }
}

type overridesKey struct{}

// Use returns a context whose calls see opts applied over the process
// settings. Nested Use calls stack; the innermost option wins.
func Use(ctx context.Context, opts ...Option) context.Context {
	prev, _ := ctx.Value(overridesKey{}).([]Option)
	all := make([]Option, 0, len(prev)+len(opts))
	all = append(all, prev...)
	all = append(all, opts...)
	return context.WithValue(ctx, overridesKey{}, all)
}

// From returns the effective settings for ctx. base is never modified.
func From(ctx context.Context, base *Config) *Config {
	if base == nil {
		base = Default()
	}
	opts, _ := ctx.Value(overridesKey{}).([]Option)
	if len(opts) == 0 {
		return base
	}
	cfg := base.Clone()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
