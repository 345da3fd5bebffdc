/*
NAME
  vfcli

DESCRIPTION
  vfcli is a command-line driver for the DVE core: it loads a source
  catalogue and a spec from JSON files, builds a Config from flags, and
  runs the spec to an output file, printing the resulting Stats as JSON.

  There is no CLI framework anywhere in the retrieved examples (no
  cobra, no pflag), so this is the one surface in the repo built
  directly on the standard library's flag package; see DESIGN.md.
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ixlab/vidformer/array"
	"github.com/ixlab/vidformer/av"
	"github.com/ixlab/vidformer/config"
	"github.com/ixlab/vidformer/dve"
	"github.com/ixlab/vidformer/filter"
	logpkg "github.com/ixlab/vidformer/log"
	"github.com/ixlab/vidformer/service"
	"github.com/ixlab/vidformer/source"
	"github.com/ixlab/vidformer/spec"
)

func main() {
	var (
		sourcesPath  = flag.String("sources", "", "path to a JSON array of sources to profile (name, path, stream_idx, service)")
		arraysPath   = flag.String("arrays", "", "path to a JSON object mapping array name to a JSON-encoded array document")
		specPath     = flag.String("spec", "", "path to a JSON spec document")
		outputPath   = flag.String("out", "out.mp4", "output file path")
		width        = flag.Int("width", 1280, "output frame width")
		height       = flag.Int("height", 720, "output frame height")
		pixFmt       = flag.String("pix-fmt", "yuv420p", "output pixel format")
		decoders     = flag.Int("decoders", 2, "max concurrent decoder threads")
		filterers    = flag.Int("filterers", 2, "filter worker pool size")
		decodePool   = flag.Int("decode-pool-size", 256, "max resident input frames")
		decoderView  = flag.Int("decoder-view", 64, "max concurrent active output generations")
		codecName    = flag.String("codec", "libx264", "output codec name")
		logLevel     = flag.Int("log-level", int(logpkg.Info), "log level: 0=debug 1=info 2=warning 3=error")
	)
	flag.Parse()

	logger := logpkg.New(int8(*logLevel), nil)

	if *sourcesPath == "" || *specPath == "" {
		fmt.Fprintln(os.Stderr, "vfcli: -sources and -spec are required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*sourcesPath, *arraysPath, *specPath, *outputPath, *width, *height, *pixFmt, *decoders, *filterers, *decodePool, *decoderView, *codecName, logger); err != nil {
		logger.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(sourcesPath, arraysPath, specPath, outputPath string, width, height int, pixFmt string, decoders, filterers, decodePool, decoderView int, codecName string, logger logpkg.Logger) error {
	sources, err := loadSources(sourcesPath)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	arrays, err := loadArrays(arraysPath)
	if err != nil {
		return fmt.Errorf("load arrays: %w", err)
	}

	specDoc, err := os.ReadFile(specPath)
	if err != nil {
		return fmt.Errorf("read spec: %w", err)
	}
	sp, err := spec.NewJSONSpec(specDoc)
	if err != nil {
		return fmt.Errorf("parse spec: %w", err)
	}

	ctx := dve.NewContext(
		sources,
		filter.NewRegistry(),
		arrays,
		service.NewRegistry(),
		func() av.Demuxer { return av.NewAstiavDemuxer() },
		func() av.Decoder { return av.NewAstiavDecoder() },
		func() av.Encoder { return av.NewAstiavEncoder() },
		func() av.Muxer { return av.NewAstiavMuxer() },
		logger,
	)

	cfg := config.Config{
		DecodePoolSize: decodePool,
		DecoderView:    decoderView,
		Decoders:       decoders,
		Filterers:      filterers,
		OutputWidth:    width,
		OutputHeight:   height,
		OutputPixFmt:   pixFmt,
		Encoder:        &config.EncoderConfig{CodecName: codecName, Opts: [][2]string{{"preset", "ultrafast"}}},
	}

	logger.Info("running spec", "sources", len(sources), "output", outputPath)
	stats, err := dve.RunSpec(ctx, sp, cfg, outputPath)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}

// sourceEntry is one element of the -sources JSON array: enough to
// profile one stream via source.BuildProfile.
type sourceEntry struct {
	Name      string             `json:"name"`
	Path      string             `json:"path"`
	StreamIdx int                `json:"stream_idx"`
	Service   service.Descriptor `json:"service"`
}

// loadArrays parses -arrays: a JSON object mapping array name to a
// JSON-encoded array document (the same document array.NewJSONArray
// accepts). An empty path yields an empty, non-nil catalogue.
func loadArrays(path string) (map[string]array.Array, error) {
	out := map[string]array.Array{}
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var docs map[string]json.RawMessage
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, err
	}
	for name, doc := range docs {
		a, err := array.NewJSONArray(doc)
		if err != nil {
			return nil, fmt.Errorf("array %q: %w", name, err)
		}
		out[name] = a
	}
	return out, nil
}

func loadSources(path string) (map[string]*source.Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []sourceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	reg := service.NewRegistry()
	demux := av.NewAstiavDemuxer()
	out := make(map[string]*source.Profile, len(entries))
	for _, e := range entries {
		p, err := source.BuildProfile(e.Name, e.Path, e.StreamIdx, e.Service, reg, demux)
		if err != nil {
			return nil, fmt.Errorf("profile source %q: %w", e.Name, err)
		}
		out[e.Name] = p
	}
	return out, nil
}
