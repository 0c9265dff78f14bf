// Package assets converts between data URLs and the blobs uploaded to the
// remote store, and derives thumbnails from main images.
package assets

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"

	apperrors "github.com/kimhsiao/studiovault/internal/errors"
)

// DefaultThumbnailSize is the bounding box of derived thumbnails in pixels.
const DefaultThumbnailSize = 256

// Blob is a decoded asset ready for upload.
type Blob struct {
	Data        []byte
	ContentType string
}

// Extension returns the file extension for the blob's content, including the dot.
func (b Blob) Extension() string {
	return Extension(b.ContentType, b.Data)
}

// DecodeDataURL parses "data:<mime>;base64,<payload>". When the declared type
// is missing or generic the content is sniffed instead.
func DecodeDataURL(s string) (Blob, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return Blob{}, apperrors.New(apperrors.ErrInvalid, "asset is not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Blob{}, apperrors.New(apperrors.ErrInvalid, "data URL has no payload")
	}

	params := strings.Split(header, ";")
	declared := strings.TrimSpace(params[0])
	isBase64 := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			isBase64 = true
		}
	}
	if !isBase64 {
		return Blob{}, apperrors.New(apperrors.ErrInvalid, "only base64 data URLs are supported")
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return Blob{}, apperrors.Wrap(apperrors.ErrInvalid, "invalid base64 payload", err)
		}
	}

	contentType := declared
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return Blob{Data: data, ContentType: contentType}, nil
}

// EncodeDataURL renders data as a base64 data URL. An empty contentType is sniffed.
func EncodeDataURL(data []byte, contentType string) string {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	// Strip parameters such as "; charset=utf-8" that mimetype adds for text.
	contentType, _, _ = strings.Cut(contentType, ";")
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Extension maps a content type to a file extension, sniffing data when the
// type is unknown. Returns ".bin" as a last resort.
func Extension(contentType string, data []byte) string {
	base, _, _ := strings.Cut(contentType, ";")
	if m := mimetype.Lookup(strings.TrimSpace(base)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if len(data) > 0 {
		if ext := mimetype.Detect(data).Extension(); ext != "" {
			return ext
		}
	}
	return ".bin"
}

// Thumbnail decodes an image and returns a JPEG fitting within size x size.
// Images already smaller than the box are re-encoded without upscaling.
func Thumbnail(data []byte, size int) (Blob, error) {
	if size <= 0 {
		size = DefaultThumbnailSize
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Blob{}, apperrors.Wrap(apperrors.ErrInvalid, "failed to decode image", err)
	}

	b := img.Bounds()
	if b.Dx() > size || b.Dy() > size {
		img = imaging.Fit(img, size, size, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return Blob{}, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return Blob{Data: buf.Bytes(), ContentType: "image/jpeg"}, nil
}

// ThumbnailDataURL derives a thumbnail data URL from a main-image data URL.
func ThumbnailDataURL(mainDataURL string, size int) (string, error) {
	main, err := DecodeDataURL(mainDataURL)
	if err != nil {
		return "", err
	}
	thumb, err := Thumbnail(main.Data, size)
	if err != nil {
		return "", err
	}
	return EncodeDataURL(thumb.Data, thumb.ContentType), nil
}
