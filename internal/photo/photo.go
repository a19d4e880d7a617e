// Package photo holds the uploaded product photo and the background-removed
// result as immutable values.
package photo

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
)

const (
	DownloadName = "lock.png"
	DownloadMIME = "image/png"
)

var ErrUnsupportedFormat = errors.New("unsupported image format, use jpg or png")

// mimeByFormat maps image.DecodeConfig format names, plus the "jpg" alias
// some clients declare, to the MIME type sent upstream.
var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
}

// Photo is the uploaded original. Bytes and Reader hand out a fresh view on
// every call, so a preview decode never leaves the upload path at a stale offset.
type Photo struct {
	data     []byte
	mimeType string
	width    int
	height   int
}

// New validates the upload as a JPEG or PNG. declaredMIME comes from the
// multipart header or Telegram and only gates obviously wrong uploads; the
// stored MIME type is the format the bytes actually decode as.
func New(data []byte, declaredMIME string) (*Photo, error) {
	if len(data) == 0 {
		return nil, errors.New("image is empty")
	}

	declared := normalizeMIME(declaredMIME)
	if declared == "" || declared == "application/octet-stream" {
		declared = normalizeMIME(http.DetectContentType(data))
	}
	name, isImage := strings.CutPrefix(declared, "image/")
	if _, ok := mimeByFormat[name]; !isImage || !ok {
		return nil, ErrUnsupportedFormat
	}

	owned := make([]byte, len(data))
	copy(owned, data)

	p := &Photo{data: owned}
	cfg, format, err := image.DecodeConfig(p.Reader())
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	mimeType, ok := mimeByFormat[format]
	if !ok {
		return nil, ErrUnsupportedFormat
	}
	p.mimeType = mimeType
	p.width, p.height = cfg.Width, cfg.Height
	return p, nil
}

func (p *Photo) Bytes() []byte {
	out := make([]byte, len(p.data))
	copy(out, p.data)
	return out
}

func (p *Photo) Reader() io.Reader {
	return bytes.NewReader(p.data)
}

func (p *Photo) Len() int {
	return len(p.data)
}

func (p *Photo) MIMEType() string {
	return p.mimeType
}

func (p *Photo) Size() (int, int) {
	return p.width, p.height
}

// Decode returns the full bitmap, used for previews.
func (p *Photo) Decode() (image.Image, error) {
	img, _, err := image.Decode(p.Reader())
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Processed is the background-removed image as returned by remove.bg,
// re-encoded as PNG for download.
type Processed struct {
	img image.Image
	png []byte
}

func DecodeProcessed(data []byte) (*Processed, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode processed image: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return &Processed{img: img, png: buf.Bytes()}, nil
}

func (p *Processed) Image() image.Image {
	return p.img
}

func (p *Processed) PNG() []byte {
	out := make([]byte, len(p.png))
	copy(out, p.png)
	return out
}

func normalizeMIME(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if strings.Contains(value, ";") {
		value = strings.TrimSpace(strings.SplitN(value, ";", 2)[0])
	}
	return value
}
