// Package media handles binary attachments carried as base64 data URIs.
package media

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// ErrInvalidDataURI is returned for values that are not base64 data URIs.
var ErrInvalidDataURI = errors.New("invalid data URI")

// DataURI is a decoded data:<mimetype>;base64,<data> value.
type DataURI struct {
	MIMEType string
	Data     []byte
}

// ParseDataURI decodes s. Only base64 payloads with an explicit MIME type are accepted.
func ParseDataURI(s string) (DataURI, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: missing payload", ErrInvalidDataURI)
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: payload must be base64", ErrInvalidDataURI)
	}
	// Drop parameters such as ";codecs=opus" but keep the type/subtype.
	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if !strings.Contains(mimeType, "/") {
		return DataURI{}, fmt.Errorf("%w: missing MIME type", ErrInvalidDataURI)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return DataURI{}, fmt.Errorf("%w: empty payload", ErrInvalidDataURI)
	}
	return DataURI{MIMEType: mimeType, Data: data}, nil
}

// String encodes the value back into data URI form.
func (d DataURI) String() string {
	return "data:" + d.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(d.Data)
}

// Kind returns the top-level MIME type, e.g. "image" or "audio".
func (d DataURI) Kind() string {
	kind, _, _ := strings.Cut(d.MIMEType, "/")
	return kind
}

// NormalizeImage downscales an image so neither side exceeds maxDim pixels.
// Images already within bounds are returned unchanged. PNG stays PNG; every
// other format is re-encoded as JPEG.
func NormalizeImage(d DataURI, maxDim int) (DataURI, error) {
	if d.Kind() != "image" {
		return DataURI{}, fmt.Errorf("normalize image: unsupported MIME type %q", d.MIMEType)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(d.Data))
	if err != nil {
		return DataURI{}, fmt.Errorf("decode image config: %w", err)
	}
	if maxDim <= 0 || (cfg.Width <= maxDim && cfg.Height <= maxDim) {
		return d, nil
	}

	img, err := imaging.Decode(bytes.NewReader(d.Data), imaging.AutoOrientation(true))
	if err != nil {
		return DataURI{}, fmt.Errorf("decode image: %w", err)
	}
	img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	out := imaging.JPEG
	mimeType := "image/jpeg"
	if format == "png" {
		out = imaging.PNG
		mimeType = "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, out, imaging.JPEGQuality(85)); err != nil {
		return DataURI{}, fmt.Errorf("encode image: %w", err)
	}
	return DataURI{MIMEType: mimeType, Data: buf.Bytes()}, nil
}
