/*
NAME
  config.go

DESCRIPTION
  config.go provides the execution tuning knobs for one run_spec
  invocation, validated up front so a bad knob fails before any worker
  thread is spawned.
*/

// Package config holds the Config struct controlling one DVE run:
// pool sizing, worker counts, output frame type, and encoder selection.
package config

import (
	"github.com/ixlab/vidformer/vferr"
)

// EncoderConfig names the output codec and any codec-specific options.
type EncoderConfig struct {
	CodecName string
	Opts      [][2]string
}

// DefaultEncoder is H.264 with preset=ultrafast, matching the engine's
// default when no EncoderConfig is supplied.
func DefaultEncoder() EncoderConfig {
	return EncoderConfig{
		CodecName: "libx264",
		Opts:      [][2]string{{"preset", "ultrafast"}},
	}
}

// RangeTsFormat controls how a Range's pts are interpreted for output
// timestamp offsetting.
type RangeTsFormat int

const (
	// StreamLocal keeps output pts absolute (no offset).
	StreamLocal RangeTsFormat = iota
	// SegmentLocal offsets output pts so they start at zero.
	SegmentLocal
)

// Range restricts a spec's domain to [Start, End] inclusive; both bounds
// must be exact members of the domain.
type Range struct {
	Start, End [2]int64 // numer, denom
	TsFormat   RangeTsFormat
}

// Config tunes one run_spec execution.
type Config struct {
	// DecodePoolSize caps the number of resident input frames.
	DecodePoolSize int
	// DecoderView caps the number of concurrent active output generations.
	DecoderView int
	// Decoders caps the number of concurrent decoder threads; must be in
	// [1, 65535].
	Decoders int
	// Filterers is the filter worker pool size.
	Filterers int

	OutputWidth  int
	OutputHeight int
	OutputPixFmt string

	Encoder *EncoderConfig // nil selects DefaultEncoder().
	Format  string         // container hint; else derived from output path.

	Range *Range
}

// Validate checks the knobs summarized in the external-interfaces section:
// all pool sizes must be positive, Decoders must fit in [1, 65535], and
// OutputPixFmt must be set.
func (c Config) Validate() error {
	if c.DecodePoolSize < 1 {
		return vferr.New(vferr.ConfigError, "decode_pool_size must be >= 1, got %d", c.DecodePoolSize)
	}
	if c.DecoderView < 1 {
		return vferr.New(vferr.ConfigError, "decoder_view must be >= 1, got %d", c.DecoderView)
	}
	if c.Decoders < 1 || c.Decoders > 65535 {
		return vferr.New(vferr.ConfigError, "decoders must be in [1, 65535], got %d", c.Decoders)
	}
	if c.Filterers < 1 {
		return vferr.New(vferr.ConfigError, "filterers must be >= 1, got %d", c.Filterers)
	}
	if c.OutputWidth <= 0 || c.OutputHeight <= 0 {
		return vferr.New(vferr.ConfigError, "output_width/output_height must be positive")
	}
	if c.OutputPixFmt == "" {
		return vferr.New(vferr.ConfigError, "output_pix_fmt must be set")
	}
	return nil
}

// EncoderOrDefault returns c.Encoder, or DefaultEncoder() if unset.
func (c Config) EncoderOrDefault() EncoderConfig {
	if c.Encoder != nil {
		return *c.Encoder
	}
	return DefaultEncoder()
}
