package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/hupe1980/hsne/blobstore"
	"github.com/hupe1980/hsne/codec"
	"github.com/hupe1980/hsne/hierarchy"
	"github.com/hupe1980/hsne/persistence"
	"github.com/hupe1980/hsne/resource"
)

var (
	// ErrNotCached is returned when no complete entry exists.
	ErrNotCached = errors.New("cache: entry not found")
	// ErrCacheMismatch is returned when the cached entry was built from
	// different inputs.
	ErrCacheMismatch = errors.New("cache: parameters do not match")
	// ErrUnknownCodec is returned for fingerprints written with a codec this
	// build does not know.
	ErrUnknownCodec = errors.New("cache: unknown codec")
)

const (
	hierarchySuffix  = "_hierarchy.hsne"
	influenceSuffix  = "_influence-tp-hierarchy.hsne"
	parametersSuffix = "_parameters.hsne"
)

// HierarchyBlob returns the name of the scales blob of dataset name.
func HierarchyBlob(name string) string { return name + hierarchySuffix }

// InfluenceBlob returns the name of the landmark map blob of dataset name.
func InfluenceBlob(name string) string { return name + influenceSuffix }

// ParametersBlob returns the name of the fingerprint blob of dataset name.
func ParametersBlob(name string) string { return name + parametersSuffix }

// IsParametersBlob reports whether a blob name is a fingerprint. Commit
// stores version these blobs.
func IsParametersBlob(name string) bool { return strings.HasSuffix(name, parametersSuffix) }

type options struct {
	logger      *slog.Logger
	resource    *resource.Controller
	compression persistence.Compression
	codec       codec.Codec
}

// Option configures a Cache.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithResources throttles blob IO and charges hierarchy builds to c.
func WithResources(c *resource.Controller) Option {
	return func(o *options) { o.resource = c }
}

// WithCompression sets the compression of the binary blobs.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithCodec sets the codec of new fingerprints.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// Cache stores hierarchies in a blob store.
type Cache struct {
	store blobstore.BlobStore
	opts  options
}

// New creates a cache on store. Blobs are ZSTD-compressed by default.
func New(store blobstore.BlobStore, optFns ...Option) *Cache {
	o := options{
		compression: persistence.CompressionZSTD,
		codec:       codec.Default,
	}
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{store: store, opts: o}
}

// Save stores h under name.
func (c *Cache) Save(ctx context.Context, name string, h *hierarchy.Hierarchy) error {
	return c.save(ctx, NewFingerprint(name, h.NumPoints, h.Dim, h.Params), h)
}

func (c *Cache) save(ctx context.Context, fp Fingerprint, h *hierarchy.Hierarchy) error {
	start := time.Now()

	scales, err := hierarchy.EncodeScales(h, c.opts.compression)
	if err != nil {
		return err
	}
	influence, err := hierarchy.EncodeInfluence(h, c.opts.compression)
	if err != nil {
		return err
	}

	fp.Codec = c.opts.codec.Name()
	fp.BuiltScales = h.NumScales()
	fp.Compression = c.opts.compression.String()
	fp.CreatedAt = time.Now().UTC()
	params, err := c.opts.codec.Marshal(fp)
	if err != nil {
		return fmt.Errorf("cache: encode fingerprint: %w", err)
	}

	// The fingerprint goes last: a partial write leaves no loadable entry.
	for _, blob := range []struct {
		name string
		data []byte
	}{
		{HierarchyBlob(fp.Name), scales},
		{InfluenceBlob(fp.Name), influence},
		{ParametersBlob(fp.Name), params},
	} {
		if err := c.opts.resource.WaitIO(ctx, len(blob.data)); err != nil {
			return err
		}
		if err := c.store.Put(ctx, blob.name, blob.data); err != nil {
			return fmt.Errorf("cache: write %s: %w", blob.name, err)
		}
	}

	c.opts.logger.Info("hierarchy cached",
		"name", fp.Name,
		"scales", h.NumScales(),
		"bytes", len(scales)+len(influence)+len(params),
		"duration", time.Since(start),
	)
	return nil
}

// Fingerprint reads the fingerprint stored for name.
func (c *Cache) Fingerprint(ctx context.Context, name string) (Fingerprint, error) {
	var fp Fingerprint

	data, err := c.read(ctx, ParametersBlob(name))
	if err != nil {
		return fp, err
	}
	if err := codec.Default.Unmarshal(data, &fp); err != nil {
		return fp, fmt.Errorf("cache: decode fingerprint of %s: %w", name, err)
	}
	if fp.Codec != "" {
		if _, ok := codec.ByName(fp.Codec); !ok {
			return fp, fmt.Errorf("%w: %q", ErrUnknownCodec, fp.Codec)
		}
	}
	return fp, nil
}

// Load reads the hierarchy cached under want.Name after checking its
// fingerprint against want. params is attached to the result.
func (c *Cache) Load(ctx context.Context, want Fingerprint, params hierarchy.Params) (*hierarchy.Hierarchy, error) {
	fp, err := c.Fingerprint(ctx, want.Name)
	if err != nil {
		return nil, err
	}
	if err := fp.Compare(want); err != nil {
		return nil, err
	}

	scales, err := c.read(ctx, HierarchyBlob(want.Name))
	if err != nil {
		return nil, err
	}
	influence, err := c.read(ctx, InfluenceBlob(want.Name))
	if err != nil {
		return nil, err
	}

	h, err := hierarchy.Decode(scales, influence, params)
	if err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", want.Name, err)
	}
	return h, nil
}

// LoadOrBuild returns the cached hierarchy for name when its fingerprint
// matches, and otherwise builds and caches a new one. The second result
// reports a cache hit. Failing to write the cache is logged, not returned.
func (c *Cache) LoadOrBuild(ctx context.Context, name string, points []float32, dim int, params hierarchy.Params, optFns ...hierarchy.Option) (*hierarchy.Hierarchy, bool, error) {
	if dim <= 0 {
		return nil, false, fmt.Errorf("%w: dimension %d", hierarchy.ErrInvalidParameter, dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	want := NewFingerprint(name, len(points)/dim, dim, params)

	h, err := c.Load(ctx, want, params)
	switch {
	case err == nil:
		c.opts.logger.Info("hierarchy loaded from cache", "name", name, "scales", h.NumScales())
		return h, true, nil
	case errors.Is(err, ErrNotCached):
		c.opts.logger.Debug("hierarchy not cached", "name", name)
	case ctx.Err() != nil:
		return nil, false, ctx.Err()
	default:
		c.opts.logger.Warn("cached hierarchy unusable, recomputing", "name", name, "error", err)
	}

	optFns = append(optFns, hierarchy.WithResources(c.opts.resource))
	h, err = hierarchy.Build(ctx, points, dim, params, optFns...)
	if err != nil {
		return nil, false, err
	}

	if err := c.save(ctx, want, h); err != nil {
		c.opts.logger.Warn("caching hierarchy failed", "name", name, "error", err)
	}
	return h, false, nil
}

// Delete removes the entry for name, fingerprint first.
func (c *Cache) Delete(ctx context.Context, name string) error {
	for _, blob := range []string{ParametersBlob(name), HierarchyBlob(name), InfluenceBlob(name)} {
		if err := c.store.Delete(ctx, blob); err != nil {
			return fmt.Errorf("cache: delete %s: %w", blob, err)
		}
	}
	return nil
}

// Names lists the datasets with a complete entry.
func (c *Cache) Names(ctx context.Context) ([]string, error) {
	blobs, err := c.store.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, b := range blobs {
		if IsParametersBlob(b) {
			names = append(names, strings.TrimSuffix(b, parametersSuffix))
		}
	}
	return names, nil
}

func (c *Cache) read(ctx context.Context, name string) ([]byte, error) {
	b, err := c.store.Open(ctx, name)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotCached, name)
		}
		return nil, fmt.Errorf("cache: open %s: %w", name, err)
	}
	defer b.Close()

	r := resource.NewRateLimitedReader(ctx, io.NewSectionReader(b, 0, b.Size()), c.opts.resource)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("cache: read %s: %w", name, err)
	}
	return data, nil
}
