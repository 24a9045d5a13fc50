// Command hsne builds a landmark hierarchy of a point set, embeds its top
// scale and optionally drills into a selection of landmarks.
//
// Usage:
//
//	hsne -input points.csv -scales 3 -output top.csv
//	hsne -input points.bin -dim 784 -cache s3://bucket/hsne -refine 0,4,9 -refine-output child.csv
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/hupe1980/hsne"
	"github.com/hupe1980/hsne/coordinator"
	"github.com/hupe1980/hsne/distance"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/knn"
	"github.com/hupe1980/hsne/persistence"
	"github.com/hupe1980/hsne/resource"
	"github.com/hupe1980/hsne/tsne"
)

// version is set at build time via ldflags.
var version = "dev"

type config struct {
	input        string
	format       string
	dim          int
	name         string
	output       string
	refineRows   string
	refineOutput string
	threshold    float64

	scales     int
	seed       int64
	neighbors  int
	knn        string
	metric     string
	stationary bool

	iterations int
	backend    string

	cache        string
	ddbTable     string
	compression  string
	memoryLimit  int64
	ioLimit      int64
	blobCacheMiB int64

	logLevel string
	logJSON  bool
}

func main() {
	var cfg config
	showVersion := flag.Bool("version", false, "print version and exit")

	flag.StringVar(&cfg.input, "input", "", "point file (.csv, or raw little-endian float32)")
	flag.StringVar(&cfg.format, "format", "", "input format: csv or raw (default from extension)")
	flag.IntVar(&cfg.dim, "dim", 0, "dimensions per point, required for raw input")
	flag.StringVar(&cfg.name, "name", "", "dataset name for the cache (default input base name)")
	flag.StringVar(&cfg.output, "output", "-", "CSV file for the top-scale embedding")
	flag.StringVar(&cfg.refineRows, "refine", "", "comma-separated top-scale rows to refine")
	flag.StringVar(&cfg.refineOutput, "refine-output", "refined.csv", "CSV file for the refined embedding")
	flag.Float64Var(&cfg.threshold, "threshold", 0.5, "influence mass a landmark needs to enter a refinement")

	flag.IntVar(&cfg.scales, "scales", 3, "number of scales including the data scale")
	flag.Int64Var(&cfg.seed, "seed", -1, "random seed, negative for time-based")
	flag.IntVar(&cfg.neighbors, "neighbors", 90, "nearest neighbours of the data scale")
	flag.StringVar(&cfg.knn, "knn", "hnsw", "neighbour search: hnsw, balltree or exact")
	flag.StringVar(&cfg.metric, "metric", "l2", "neighbour metric: l2, cosine, dot or manhattan")
	flag.BoolVar(&cfg.stationary, "stationary", false, "select landmarks from the stationary distribution")

	flag.IntVar(&cfg.iterations, "iterations", hsne.DefaultIterations, "gradient descent iterations per embedding")
	flag.StringVar(&cfg.backend, "backend", "barnes-hut", "gradient backend: barnes-hut or field")

	flag.StringVar(&cfg.cache, "cache", "", "hierarchy cache: directory, s3://bucket/prefix or minio://host/bucket/prefix")
	flag.StringVar(&cfg.ddbTable, "ddb-table", "", "DynamoDB table committing s3 cache entries")
	flag.StringVar(&cfg.compression, "compression", "zstd", "cache compression: none, lz4 or zstd")
	flag.Int64Var(&cfg.memoryLimit, "memory-limit", 0, "memory budget in bytes, 0 for none")
	flag.Int64Var(&cfg.ioLimit, "io-limit", 0, "cache IO limit in bytes per second, 0 for none")
	flag.Int64Var(&cfg.blobCacheMiB, "blob-cache", 256, "in-memory cache of remote blobs in MiB")

	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flag.BoolVar(&cfg.logJSON, "log-json", false, "log as JSON")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintln(os.Stderr, "hsne:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config) error {
	if cfg.input == "" {
		return errors.New("-input is required")
	}

	logger, err := newLogger(cfg.logLevel, cfg.logJSON)
	if err != nil {
		return err
	}

	points, dim, err := readPoints(cfg.input, cfg.format, cfg.dim)
	if err != nil {
		return err
	}
	if cfg.name == "" {
		cfg.name = strings.TrimSuffix(filepath.Base(cfg.input), filepath.Ext(cfg.input))
	}
	logger.Info("points loaded", "path", cfg.input, "points", len(points)/dim, "dim", dim)

	hp, err := hierarchyParams(cfg)
	if err != nil {
		return err
	}
	ep := tsne.DefaultParams()
	ep.Seed = cfg.seed
	if ep.Backend, err = tsne.ParseBackend(cfg.backend); err != nil {
		return err
	}

	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:   cfg.memoryLimit,
		IOLimitBytesPerSec: cfg.ioLimit,
	})

	b := hsne.Hierarchy(points, dim).
		Name(cfg.name).
		HierarchyParams(hp).
		Embedding(ep).
		Iterations(cfg.iterations).
		ResourceController(rc).
		RefineThreshold(cfg.threshold).
		Logger(logger).
		Listener(progressListener(logger))

	if cfg.cache != "" {
		comp, err := persistence.ParseCompression(cfg.compression)
		if err != nil {
			return err
		}
		store, err := openStore(ctx, cfg.cache, cfg.ddbTable, cfg.blobCacheMiB<<20, rc)
		if err != nil {
			return err
		}
		b = b.Cache(store, cacheOptions(comp)...)
	}

	a, err := b.Build()
	if err != nil {
		return err
	}
	defer a.Close()

	top, err := a.EmbedTop(ctx)
	if err != nil {
		return err
	}
	if err := writeEmbedding(cfg.output, top); err != nil {
		return err
	}

	if cfg.refineRows == "" {
		return nil
	}
	rows, err := parseRows(cfg.refineRows)
	if err != nil {
		return err
	}
	child, err := a.Refine(ctx, top, rows)
	if err != nil {
		return err
	}
	logger.Info("refinement embedded", "scale", child.Scale, "landmarks", child.Len())
	return writeEmbedding(cfg.refineOutput, child)
}

func hierarchyParams(cfg config) (hierarchy.Params, error) {
	p := hierarchy.DefaultParams()
	p.NumScales = cfg.scales
	p.Seed = cfg.seed
	p.NumNeighbors = cfg.neighbors
	p.MonteCarloSampling = !cfg.stationary

	var err error
	if p.Knn.Algorithm, err = knn.ParseAlgorithm(cfg.knn); err != nil {
		return p, err
	}
	if p.Knn.Metric, err = distance.ParseMetric(cfg.metric); err != nil {
		return p, err
	}
	return p, p.Validate()
}

func newLogger(level string, json bool) (*hsne.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	if json {
		return hsne.NewJSONLogger(l), nil
	}
	return hsne.NewTextLogger(l), nil
}

func progressListener(logger *hsne.Logger) coordinator.Listener {
	return func(ev coordinator.Event) {
		switch ev.Type {
		case coordinator.EventScaleBuilt:
			logger.Info("scale built", "scale", ev.Scale, "landmarks", ev.Landmarks)
		case coordinator.EventSnapshot:
			logger.Debug("snapshot", "run", ev.Run, "iteration", ev.Iteration)
		case coordinator.EventAborted:
			logger.Warn("run stopped", "run", ev.Run, "iteration", ev.Iteration, "error", ev.Err)
		case coordinator.EventFailed:
			logger.Error("run failed", "run", ev.Run, "error", ev.Err)
		}
	}
}
