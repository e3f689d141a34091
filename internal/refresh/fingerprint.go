package refresh

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"io"
	"net/http"

	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
)

// Fingerprinter computes a perceptual hash for the image at url.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, url string) (string, error)
}

const (
	hashSide = 8
	// samplesPerCell bounds the pixels read per hash cell on large images.
	samplesPerCell = 16
	// DefaultMaxImageBytes caps a fingerprint download.
	DefaultMaxImageBytes = 50 << 20
)

// AverageHash downloads an image and computes its 64-bit average hash:
// the image is reduced to 8x8 luminance cells and each bit records whether
// a cell is brighter than the mean.
type AverageHash struct {
	client   *httpclient.Client
	maxBytes int64
}

// NewAverageHash creates an AverageHash fingerprinter.
func NewAverageHash(client *httpclient.Client) *AverageHash {
	return &AverageHash{client: client, maxBytes: DefaultMaxImageBytes}
}

// Fingerprint returns the hash as 16 hex digits.
func (a *AverageHash) Fingerprint(ctx context.Context, url string) (string, error) {
	resp, err := a.client.Get(ctx, url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Newf("image download returned status %d", resp.StatusCode).
			Component("refresh").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode).
			Build()
	}

	img, _, err := image.Decode(io.LimitReader(resp.Body, a.maxBytes))
	if err != nil {
		return "", errors.New(err).
			Component("refresh").
			Category(errors.CategoryFileParsing).
			Context("operation", "decode_image").
			Build()
	}
	return averageHash(img), nil
}

func averageHash(img image.Image) string {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return fmt.Sprintf("%016x", uint64(0))
	}

	var cells [hashSide * hashSide]float64
	var total float64
	for cy := range hashSide {
		y0, y1 := b.Min.Y+cy*h/hashSide, b.Min.Y+(cy+1)*h/hashSide
		y1 = max(y1, y0+1)
		for cx := range hashSide {
			x0, x1 := b.Min.X+cx*w/hashSide, b.Min.X+(cx+1)*w/hashSide
			x1 = max(x1, x0+1)
			cell := cellLuminance(img, x0, x1, y0, y1)
			cells[cy*hashSide+cx] = cell
			total += cell
		}
	}

	mean := total / float64(len(cells))
	var bits uint64
	for i, cell := range cells {
		if cell > mean {
			bits |= 1 << (len(cells) - 1 - i)
		}
	}
	return fmt.Sprintf("%016x", bits)
}

// cellLuminance averages the gray value over a grid of samples in the
// rectangle [x0,x1) x [y0,y1).
func cellLuminance(img image.Image, x0, x1, y0, y1 int) float64 {
	stepX := max(1, (x1-x0)/samplesPerCell)
	stepY := max(1, (y1-y0)/samplesPerCell)

	var sum float64
	var n int
	for y := y0; y < y1; y += stepY {
		for x := x0; x < x1; x += stepX {
			gray, _ := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			sum += float64(gray.Y)
			n++
		}
	}
	return sum / float64(n)
}
