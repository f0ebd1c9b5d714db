package imaging

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// ErrNoImageData is returned when a FITS file has no 2D image HDU.
var ErrNoImageData = errors.New("no 2D image HDU")

// Decode reads the first HDU carrying 2D image data from a FITS stream.
//
// Many archive products keep an empty primary HDU and store the science array
// in the first extension; in that case the primary header cards are merged
// with the extension's, the extension winning on conflicts. BSCALE and BZERO
// are applied to every sample.
func Decode(r io.Reader) (*Image, error) {
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open FITS stream: %w", err)
	}
	defer f.Close()

	header := make(map[string]string)
	var keys []string
	addCards := func(hdr *fitsio.Header) {
		for _, k := range hdr.Keys() {
			card := hdr.Get(k)
			if card == nil {
				continue
			}
			if _, ok := header[k]; !ok {
				keys = append(keys, k)
			}
			header[k] = cardString(card.Value)
		}
	}

	for i, hdu := range f.HDUs() {
		fimg, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		hdr := fimg.Header()
		axes := hdr.Axes()
		if i == 0 {
			addCards(hdr)
		}
		if len(axes) != 2 || axes[0] == 0 || axes[1] == 0 {
			continue
		}
		if i != 0 {
			addCards(hdr)
		}

		pix, err := readSamples(fimg, axes[0]*axes[1])
		if err != nil {
			return nil, fmt.Errorf("HDU %d: %w", i, err)
		}
		applyScaling(pix, hdr)

		img, err := NewImage(axes[0], axes[1], pix, nil)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			img.setCard(k, header[k])
		}
		return img, nil
	}

	return nil, ErrNoImageData
}

// readSamples decodes raw image data according to BITPIX and widens it to
// float64.
func readSamples(fimg fitsio.Image, n int) ([]float64, error) {
	out := make([]float64, n)

	switch bitpix := fimg.Header().Bitpix(); bitpix {
	case 8:
		raw := make([]uint8, n)
		if err := fimg.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 16:
		raw := make([]int16, n)
		if err := fimg.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 32:
		raw := make([]int32, n)
		if err := fimg.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case 64:
		raw := make([]int64, n)
		if err := fimg.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case -32:
		raw := make([]float32, n)
		if err := fimg.Read(&raw); err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
		for i, v := range raw {
			out[i] = float64(v)
		}
	case -64:
		if err := fimg.Read(&out); err != nil {
			return nil, fmt.Errorf("failed to read image data: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
	}

	return out, nil
}

func applyScaling(pix []float64, hdr *fitsio.Header) {
	scale, zero := 1.0, 0.0
	if card := hdr.Get("BSCALE"); card != nil {
		if v, err := strconv.ParseFloat(cardString(card.Value), 64); err == nil {
			scale = v
		}
	}
	if card := hdr.Get("BZERO"); card != nil {
		if v, err := strconv.ParseFloat(cardString(card.Value), 64); err == nil {
			zero = v
		}
	}
	if scale == 1 && zero == 0 {
		return
	}
	for i := range pix {
		pix[i] = pix[i]*scale + zero
	}
}

func cardString(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
