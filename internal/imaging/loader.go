package imaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ImageCache provides thread-safe caching of loaded FITS frames to avoid
// redundant disk reads and decoding.
//
// The cache stores decoded *Image values keyed by their file path. Once an
// image is loaded, subsequent Load() calls for the same path return the cached
// copy without disk I/O.
//
// ImageCache is safe for concurrent use by multiple goroutines.
//
// # Memory Management
//
// Science frames are large (a 4k×4k float64 frame is 128 MiB). Cached images
// remain in memory until explicitly removed via Evict() or Clear().
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/data/hlsp_hugs_hst_wfc3-uvis_ngc6254_f275w_v1_stack-0790s.fits")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cache.Evict("/data/...") // Optional: free memory
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]*Image
}

// NewImageCache creates and initializes a new empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]*Image),
	}
}

// Load retrieves an image from the cache or loads it from disk if not cached.
//
// The image is cached using the exact path string provided. Different paths to
// the same file (e.g., relative vs absolute) result in separate cache entries.
//
// # Errors
//
//   - Returns error if the file does not exist or cannot be read
//   - Returns error if the file is not a FITS file with 2D image data
func (c *ImageCache) Load(path string) (*Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	img, err := Load(path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if cached, ok := c.images[path]; ok {
		img = cached
	} else {
		c.images[path] = img
	}
	c.mu.Unlock()

	return img, nil
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]*Image)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache by its path.
// If the path is not in the cache, this method does nothing.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Load reads a FITS file from disk without caching.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

// ImageInfo contains metadata about a loaded FITS frame.
type ImageInfo struct {
	// Width is the number of columns (NAXIS1).
	Width int `json:"width"`

	// Height is the number of rows (NAXIS2).
	Height int `json:"height"`

	// Format is "fits" for .fits/.fit/.fts files, "unknown" otherwise.
	// Detection is based on file extension; decoding already succeeded.
	Format string `json:"format"`

	// Bitpix is the on-disk sample type.
	Bitpix string `json:"bitpix"`

	// Observation holds the header fields the photometry stage needs.
	Observation Observation `json:"observation"`

	// FileSizeBytes is the size of the file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image through the cache and summarizes it.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	format := "unknown"
	switch strings.ToLower(filepath.Ext(path)) {
	case ".fits", ".fit", ".fts":
		format = "fits"
	}

	bitpix, _ := img.Header("BITPIX")

	return &ImageInfo{
		Width:         img.Width(),
		Height:        img.Height(),
		Format:        format,
		Bitpix:        bitpix,
		Observation:   ObservationInfo(img),
		FileSizeBytes: stat.Size(),
	}, nil
}
