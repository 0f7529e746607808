package resolver

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"golang.org/x/image/draw"

	// Register decoders for the formats the normalizer coerces to JPEG.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	_ "image/gif"
	_ "image/png"
)

// Canonical normalization bounds, matching what downstream providers accept.
const (
	maxDimension = 2048
	jpegQuality  = 85
)

var acceptedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Image is a decoded, normalized image payload.
type Image struct {
	MIME string
	Data []byte
}

// DataURL renders the image as a base64 data URL, the shape provider
// transports expect.
func (im *Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", im.MIME, base64.StdEncoding.EncodeToString(im.Data))
}

// ParseDataURL splits a data URL into its MIME type and raw bytes.
func ParseDataURL(dataURL string) (*Image, error) {
	if !strings.HasPrefix(dataURL, "data:") {
		return nil, errors.New("not a data url")
	}
	comma := strings.IndexByte(dataURL, ',')
	if comma < 0 {
		return nil, errors.New("malformed data url")
	}
	header := dataURL[5:comma]
	mime := header
	if semi := strings.IndexByte(header, ';'); semi >= 0 {
		mime = header[:semi]
	}
	if mime == "" {
		mime = "application/octet-stream"
	}
	data, err := base64.StdEncoding.DecodeString(dataURL[comma+1:])
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return &Image{MIME: strings.ToLower(mime), Data: data}, nil
}

// Normalize coerces an arbitrary input image into a canonical encoding.
// Directly accepted formats (jpeg/png/webp/gif) pass through untouched;
// everything else is decoded and re-encoded as JPEG, capped at maxDimension
// on the longest side.
func Normalize(im *Image) (*Image, error) {
	mime := strings.ToLower(strings.TrimSpace(im.MIME))
	if mime == "image/jpg" {
		// Header fix only; the bytes are already JPEG.
		return &Image{MIME: "image/jpeg", Data: im.Data}, nil
	}
	if acceptedMIME[mime] {
		return &Image{MIME: mime, Data: im.Data}, nil
	}

	src, _, err := image.Decode(bytes.NewReader(im.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	src = fitWithin(src, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return &Image{MIME: "image/jpeg", Data: buf.Bytes()}, nil
}

// fitWithin downscales the image so both dimensions fit inside max,
// preserving aspect ratio. Images already inside the bound are returned
// unchanged.
func fitWithin(src image.Image, max int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= max && h <= max {
		return src
	}
	nw, nh := w, h
	if w > h {
		nw = max
		nh = h * max / w
	} else {
		nh = max
		nw = w * max / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
