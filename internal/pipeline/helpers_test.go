package pipeline

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ironsheep/astrophot/internal/calibration"
	"github.com/ironsheep/astrophot/internal/imaging"
)

type star struct {
	x, y, flux float64
}

// acsHeader is a minimal ACS/WFC primary header.
func acsHeader() map[string]string {
	return map[string]string{
		"INSTRUME": "ACS",
		"DETECTOR": "WFC",
		"FILTER1":  "CLEAR1L",
		"FILTER2":  "F775W",
		"DATE-OBS": "2020-01-01",
		"TIME-OBS": "10:15:00",
		"EXPTIME":  "100",
	}
}

// starImage builds a frame with a flat sky, Gaussian read noise from a fixed
// seed and pixel-integrated Gaussian stars of the given FWHM.
func starImage(t *testing.T, width, height int, sky, noise, fwhm float64, stars []star, header map[string]string) *imaging.Image {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	pix := make([]float64, width*height)
	for i := range pix {
		pix[i] = sky + noise*rng.NormFloat64()
	}

	s := math.Sqrt2 * fwhm / (2 * math.Sqrt(2*math.Ln2))
	for _, st := range stars {
		for row := 0; row < height; row++ {
			fy := 0.5 * (math.Erf((float64(row)+0.5-st.y)/s) - math.Erf((float64(row)-0.5-st.y)/s))
			for col := 0; col < width; col++ {
				fx := 0.5 * (math.Erf((float64(col)+0.5-st.x)/s) - math.Erf((float64(col)-0.5-st.x)/s))
				pix[row*width+col] += st.flux * fx * fy
			}
		}
	}

	img, err := imaging.NewImage(width, height, pix, header)
	require.NoError(t, err)
	return img
}

// twoStarImage is the standard 64×64 test frame.
func twoStarImage(t *testing.T, header map[string]string) *imaging.Image {
	t.Helper()
	return starImage(t, 64, 64, 100, 2, 3, []star{
		{x: 20, y: 20, flux: 5000},
		{x: 45, y: 30, flux: 3000},
	}, header)
}

func staticCalibration() []calibration.Entry {
	return []calibration.Entry{
		{Instrument: "WFC", Filter: "F775W", Date: "2020-01-01", System: "VEGAmag", ZeroPoint: 24.5},
	}
}

func saveImage(t *testing.T, img *imaging.Image, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, imaging.Save(path, img))
	return path
}
