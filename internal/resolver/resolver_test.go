package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/image/bmp"

	"tryon/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func bmpBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := bmp.Encode(&buf, img); err != nil {
		t.Fatalf("encode bmp: %v", err)
	}
	return buf.Bytes()
}

func dataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func TestResolveDataURL(t *testing.T) {
	r := New(nil, Options{})
	raw := pngBytes(t, 4, 4)

	im, err := r.Resolve(context.Background(), dataURL("image/png", raw))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if im.MIME != "image/png" {
		t.Fatalf("mime = %q, want image/png", im.MIME)
	}
	if !bytes.Equal(im.Data, raw) {
		t.Fatal("accepted format should pass through unmodified")
	}
}

func TestResolveRepairsMangledBase64Marker(t *testing.T) {
	r := New(nil, Options{})
	raw := pngBytes(t, 2, 2)
	mangled := strings.Replace(dataURL("image/png", raw), ";base64,", ";base66,", 1)

	im, err := r.Resolve(context.Background(), mangled)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !bytes.Equal(im.Data, raw) {
		t.Fatal("payload mismatch after marker repair")
	}
}

func TestResolveNormalizesUnknownFormat(t *testing.T) {
	r := New(nil, Options{})

	im, err := r.Resolve(context.Background(), dataURL("image/bmp", bmpBytes(t, 6, 3)))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if im.MIME != "image/jpeg" {
		t.Fatalf("mime = %q, want image/jpeg", im.MIME)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(im.Data))
	if err != nil {
		t.Fatalf("decode normalized output: %v", err)
	}
	if cfg.Width != 6 || cfg.Height != 3 {
		t.Fatalf("dimensions = %dx%d, want 6x3", cfg.Width, cfg.Height)
	}
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	r := New(nil, Options{})
	for _, input := range []string{"", "not-an-image", "ftp://example.com/a.png", "data:image/png;base64,@@@"} {
		if _, err := r.Resolve(context.Background(), input); !errors.Is(err, ErrInvalidImage) {
			t.Errorf("Resolve(%q) = %v, want ErrInvalidImage", input, err)
		}
	}
}

func TestResolveFetchesRemoteURL(t *testing.T) {
	raw := pngBytes(t, 3, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png; charset=binary")
		w.Write(raw)
	}))
	defer srv.Close()

	r := New(nil, Options{HTTPClient: srv.Client()})
	im, err := r.Resolve(context.Background(), srv.URL+"/garment.png")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if im.MIME != "image/png" {
		t.Fatalf("mime = %q, want image/png", im.MIME)
	}
	if !bytes.Equal(im.Data, raw) {
		t.Fatal("payload mismatch")
	}
}

func TestResolveFetchFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(nil, Options{HTTPClient: srv.Client()})
	if _, err := r.Resolve(context.Background(), srv.URL); !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("err = %v, want ErrFetchFailed", err)
	}
}

func TestResolveEnforcesSizeCap(t *testing.T) {
	raw := pngBytes(t, 64, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(raw)
	}))
	defer srv.Close()

	r := New(nil, Options{HTTPClient: srv.Client(), MaxImageBytes: 16})
	if _, err := r.Resolve(context.Background(), srv.URL); !errors.Is(err, domain.ErrImageTooLarge) {
		t.Fatalf("fetch err = %v, want ErrImageTooLarge", err)
	}
	if _, err := r.Resolve(context.Background(), dataURL("image/png", raw)); !errors.Is(err, domain.ErrImageTooLarge) {
		t.Fatalf("inline err = %v, want ErrImageTooLarge", err)
	}
}

type fakeReferenceStore struct {
	defaults map[string]*domain.ReferenceImage
	latest   map[string]*domain.ReferenceImage
	calls    int
}

func (f *fakeReferenceStore) Default(_ context.Context, owner string, kind domain.ReferenceKind) (*domain.ReferenceImage, error) {
	f.calls++
	if ref, ok := f.defaults[owner+"|"+string(kind)]; ok {
		return ref, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeReferenceStore) Latest(_ context.Context, owner string, kind domain.ReferenceKind) (*domain.ReferenceImage, error) {
	if ref, ok := f.latest[owner+"|"+string(kind)]; ok {
		return ref, nil
	}
	return nil, domain.ErrNotFound
}

func (f *fakeReferenceStore) List(context.Context, string, domain.ReferenceKind) ([]domain.ReferenceImage, error) {
	return nil, nil
}

func (f *fakeReferenceStore) Create(context.Context, *domain.ReferenceImage) error { return nil }

func (f *fakeReferenceStore) SetDefault(context.Context, string, string) error { return nil }

func TestResolveReferenceFallbackChain(t *testing.T) {
	defaultImg := dataURL("image/png", pngBytes(t, 2, 2))
	latestImg := dataURL("image/png", pngBytes(t, 5, 5))

	store := &fakeReferenceStore{
		defaults: map[string]*domain.ReferenceImage{
			"alice|environment": {Owner: "alice", Kind: domain.ReferenceEnvironment, Image: defaultImg},
		},
		latest: map[string]*domain.ReferenceImage{
			"bob|environment": {Owner: "bob", Kind: domain.ReferenceEnvironment, Image: latestImg},
		},
	}
	r := New(store, Options{})

	im, err := r.ResolveReference(context.Background(), "alice", domain.ReferenceEnvironment)
	if err != nil {
		t.Fatalf("default lookup: %v", err)
	}
	if im.DataURL() != defaultImg {
		t.Fatal("expected the default reference image")
	}

	im, err = r.ResolveReference(context.Background(), "bob", domain.ReferenceEnvironment)
	if err != nil {
		t.Fatalf("latest fallback: %v", err)
	}
	if im.DataURL() != latestImg {
		t.Fatal("expected fallback to the latest reference image")
	}

	if _, err := r.ResolveReference(context.Background(), "carol", domain.ReferenceEnvironment); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestResolveReferenceUsesCache(t *testing.T) {
	store := &fakeReferenceStore{
		defaults: map[string]*domain.ReferenceImage{
			"alice|person": {Owner: "alice", Kind: domain.ReferencePerson, Image: dataURL("image/png", pngBytes(t, 2, 2))},
		},
	}
	r := New(store, Options{})

	for i := 0; i < 3; i++ {
		if _, err := r.ResolveReference(context.Background(), "alice", domain.ReferencePerson); err != nil {
			t.Fatalf("lookup %d: %v", i, err)
		}
	}
	if store.calls != 1 {
		t.Fatalf("store hit %d times, want 1", store.calls)
	}
}
