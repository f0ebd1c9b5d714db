package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ironsheep/astrophot/internal/imaging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func TestRunFile(t *testing.T) {
	path := saveImage(t, twoStarImage(t, acsHeader()), "field.fits")
	r := newRunner(t, DefaultConfig(), WithCalibration(staticService(t)))

	res, err := r.RunFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, res.ImagePath)
	assert.Equal(t, "WFC", res.Observation.Instrument)
	assert.Equal(t, "F775W", res.Observation.Filter)
	assert.Equal(t, "2020-01-01T10:15:00", res.Observation.DateObs)
	assert.Len(t, res.Photometry, 2)
}

func TestRunFileMissing(t *testing.T) {
	r := newRunner(t, DefaultConfig())
	_, err := r.RunFile(context.Background(), filepath.Join(t.TempDir(), "absent.fits"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunBatch(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i, stars := range [][]star{
		{{x: 20, y: 20, flux: 5000}},
		{{x: 20, y: 20, flux: 5000}, {x: 45, y: 30, flux: 3000}},
		nil,
	} {
		img := starImage(t, 64, 64, 100, 2, 3, stars, acsHeader())
		path := filepath.Join(dir, []string{"a.fits", "b.fits", "c.fits"}[i])
		require.NoError(t, imaging.Save(path, img))
		paths = append(paths, path)
	}

	cfg := DefaultConfig()
	cfg.Workers = 2
	r := newRunner(t, cfg, WithCalibration(staticService(t)))

	results, err := r.RunBatch(context.Background(), paths)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, paths[i], res.ImagePath)
	}
	assert.Len(t, results[0].Sources, 1)
	assert.Len(t, results[1].Sources, 2)
	assert.Empty(t, results[2].Sources)
}

func TestRunBatchFailure(t *testing.T) {
	good := saveImage(t, twoStarImage(t, acsHeader()), "good.fits")
	bad := filepath.Join(t.TempDir(), "bad.fits")
	require.NoError(t, os.WriteFile(bad, []byte("not a FITS file"), 0o644))

	r := newRunner(t, DefaultConfig())
	results, err := r.RunBatch(context.Background(), []string{good, bad})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.Contains(t, err.Error(), "bad.fits")
}

func TestRunBatchEmpty(t *testing.T) {
	r := newRunner(t, DefaultConfig())
	results, err := r.RunBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
