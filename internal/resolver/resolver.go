// Package resolver turns the image references a job carries (data URLs,
// remote URLs, owner reference lookups) into normalized in-memory images
// ready for provider calls.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"tryon/internal/domain"
)

// Sentinel errors surfaced to callers. Lookup misses propagate
// domain.ErrNotFound and size violations domain.ErrImageTooLarge.
var (
	ErrInvalidImage = errors.New("resolver: invalid image input")
	ErrFetchFailed  = errors.New("resolver: image fetch failed")
)

const (
	defaultFetchTimeout = 15 * time.Second
	referenceCacheTTL   = 30 * time.Second
)

// Options tunes a Resolver. Zero values fall back to sane defaults.
type Options struct {
	MaxImageBytes int64
	FetchTimeout  time.Duration
	HTTPClient    *http.Client
}

// Resolver resolves image inputs and owner reference images.
type Resolver struct {
	refs     domain.ReferenceStore
	client   *http.Client
	refCache *cache.Cache
	maxBytes int64
	timeout  time.Duration
}

// New builds a Resolver over the given reference store.
func New(refs domain.ReferenceStore, opts Options) *Resolver {
	timeout := opts.FetchTimeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Resolver{
		refs:     refs,
		client:   client,
		refCache: cache.New(referenceCacheTTL, time.Minute),
		maxBytes: opts.MaxImageBytes,
		timeout:  timeout,
	}
}

// Resolve materializes a single image input. Data URLs are decoded in place;
// http(s) URLs are fetched with a bounded timeout and size cap. Anything else
// is rejected as invalid input.
func (r *Resolver) Resolve(ctx context.Context, input string) (*Image, error) {
	input = strings.TrimSpace(input)
	switch {
	case input == "":
		return nil, ErrInvalidImage
	case strings.HasPrefix(input, "data:"):
		// Some mobile clients mangle the base64 marker when re-encoding.
		input = strings.Replace(input, ";base66,", ";base64,", 1)
		im, err := ParseDataURL(input)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
		}
		return r.finish(im)
	case strings.HasPrefix(input, "http://"), strings.HasPrefix(input, "https://"):
		im, err := r.fetch(ctx, input)
		if err != nil {
			return nil, err
		}
		return r.finish(im)
	default:
		return nil, ErrInvalidImage
	}
}

// ResolveReference resolves the owner's default reference image of the given
// kind, falling back to the most recently uploaded one. Results are cached
// briefly so a burst of pose renders does not hammer the store.
func (r *Resolver) ResolveReference(ctx context.Context, owner string, kind domain.ReferenceKind) (*Image, error) {
	if r.refs == nil {
		return nil, domain.ErrNotFound
	}
	cacheKey := owner + "|" + string(kind)
	if cached, ok := r.refCache.Get(cacheKey); ok {
		return cached.(*Image), nil
	}

	ref, err := r.refs.Default(ctx, owner, kind)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if ref == nil {
		ref, err = r.refs.Latest(ctx, owner, kind)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}
	if ref == nil {
		return nil, domain.ErrNotFound
	}

	im, err := r.Resolve(ctx, ref.Image)
	if err != nil {
		return nil, err
	}
	r.refCache.Set(cacheKey, im, cache.DefaultExpiration)
	return im, nil
}

func (r *Resolver) fetch(ctx context.Context, url string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if r.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, domain.ErrImageTooLarge
	}

	mime := resp.Header.Get("Content-Type")
	if semi := strings.IndexByte(mime, ';'); semi >= 0 {
		mime = mime[:semi]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "" {
		mime = "image/jpeg"
	}
	return &Image{MIME: mime, Data: data}, nil
}

func (r *Resolver) finish(im *Image) (*Image, error) {
	if len(im.Data) == 0 {
		return nil, ErrInvalidImage
	}
	if r.maxBytes > 0 && int64(len(im.Data)) > r.maxBytes {
		return nil, domain.ErrImageTooLarge
	}
	normalized, err := Normalize(im)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return normalized, nil
}
