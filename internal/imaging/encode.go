package imaging

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
)

// structuralKeys are written by the encoder itself and never copied from the
// source header.
var structuralKeys = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "NAXIS1": true, "NAXIS2": true,
	"EXTEND": true, "BSCALE": true, "BZERO": true, "END": true,
	"XTENSION": true, "PCOUNT": true, "GCOUNT": true,
	"COMMENT": true, "HISTORY": true, "": true,
}

// Encode writes img as a single-HDU FITS stream with BITPIX -64. Header cards
// are carried over with numeric and logical values restored to their types.
func Encode(w io.Writer, img *Image) error {
	f, err := fitsio.Create(w)
	if err != nil {
		return fmt.Errorf("failed to create FITS stream: %w", err)
	}
	defer f.Close()

	hdu := fitsio.NewImage(-64, []int{img.width, img.height})
	defer hdu.Close()

	var cards []fitsio.Card
	for _, k := range img.keys {
		if structuralKeys[k] || len(k) > 8 {
			continue
		}
		cards = append(cards, fitsio.Card{Name: k, Value: cardValue(img.header[k])})
	}
	if len(cards) > 0 {
		if err := hdu.Header().Append(cards...); err != nil {
			return fmt.Errorf("failed to append header cards: %w", err)
		}
	}

	if err := hdu.Write(img.pix); err != nil {
		return fmt.Errorf("failed to write image data: %w", err)
	}
	if err := f.Write(hdu); err != nil {
		return fmt.Errorf("failed to write HDU: %w", err)
	}
	return nil
}

// Save writes img to path as FITS, replacing any existing file.
func Save(path string, img *Image) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// cardValue converts a stored header string back to the most specific card
// type.
func cardValue(s string) interface{} {
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return v
	}
	return s
}

// Cutout copies the region into a new Image. The parent header is kept and
// LTV1/LTV2 record the offset of the cutout, so positions can be mapped back
// to the full frame as parent = cutout - LTV.
func (r *Region) Cutout() *Image {
	out := &Image{
		width:  r.cols.Len(),
		height: r.rows.Len(),
		pix:    r.Values(),
		header: make(map[string]string, len(r.img.header)+2),
	}
	for _, k := range r.img.keys {
		out.setCard(k, r.img.header[k])
	}
	out.setCard("LTV1", strconv.Itoa(-r.cols.Start))
	out.setCard("LTV2", strconv.Itoa(-r.rows.Start))
	return out
}
