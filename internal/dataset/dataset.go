// Package dataset enumerates a directory of images and serves them as
// shuffled, fixed-size batches of normalized CHW tensors.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/born-vae/internal/imageio"
	"github.com/born-ml/born-vae/internal/parallel"
	"github.com/born-ml/born-vae/internal/tensor"
	"github.com/born-ml/born-vae/internal/vae"
)

// ErrTooFewImages is returned when the directory cannot fill a single batch.
var ErrTooFewImages = errors.New("not enough images for one batch")

// Options configures a Source.
type Options struct {
	ImageSize int    // Output height and width
	Channels  int    // 1 (luminance) or 3 (RGB)
	BatchSize int    // Images per batch
	Workers   int    // Concurrent decodes per batch; <= 0 uses the physical core count
	Seed      uint64 // Shuffle seed; epoch e always sees the same order for a given seed
}

// Batch is a group of exactly BatchSize decoded images.
type Batch struct {
	Data  []float32 // [N, C, H, W] row-major
	Paths []string  // Source file of each image, in batch order
	shape tensor.Shape
}

// Shape returns [N, C, H, W].
func (b *Batch) Shape() tensor.Shape {
	return b.shape
}

// Len returns the number of images in the batch.
func (b *Batch) Len() int {
	return len(b.Paths)
}

// Source serves batches from a fixed list of image files.
//
// The last partial batch of an epoch is dropped so every batch has the same
// shape. Call StartEpoch before each pass; Next returns io.EOF at the end.
type Source struct {
	paths []string
	opts  Options
	order []int
	pos   int
	epoch int
}

// Open scans dir recursively for supported image files.
func Open(dir string, opts Options) (*Source, error) {
	if opts.ImageSize <= 0 || opts.BatchSize <= 0 || (opts.Channels != 1 && opts.Channels != 3) {
		return nil, fmt.Errorf("dataset: invalid options %+v", opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = parallel.Workers()
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageio.IsImage(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &vae.IOError{Op: "scan", Path: dir, Err: err}
	}
	slices.Sort(paths)

	if len(paths) < opts.BatchSize {
		return nil, fmt.Errorf("%w: found %d in %s, batch size is %d", ErrTooFewImages, len(paths), dir, opts.BatchSize)
	}

	slog.Debug("dataset opened", "dir", dir, "images", len(paths), "batch_size", opts.BatchSize)
	s := &Source{paths: paths, opts: opts}
	s.StartEpoch(0)
	return s, nil
}

// Len returns the number of images found.
func (s *Source) Len() int {
	return len(s.paths)
}

// BatchesPerEpoch returns the number of full batches in one pass.
func (s *Source) BatchesPerEpoch() int {
	return len(s.paths) / s.opts.BatchSize
}

// Epoch returns the epoch most recently started.
func (s *Source) Epoch() int {
	return s.epoch
}

// StartEpoch reshuffles the images for epoch and rewinds to its first batch.
func (s *Source) StartEpoch(epoch int) {
	rng := rand.New(rand.NewPCG(s.opts.Seed, uint64(epoch)))
	s.order = rng.Perm(len(s.paths))
	s.pos = 0
	s.epoch = epoch
}

// Skip advances past n batches without decoding them.
func (s *Source) Skip(n int) {
	s.pos = min(s.pos+n*s.opts.BatchSize, len(s.order))
}

// Next decodes and returns the next batch, or io.EOF once fewer than
// BatchSize images remain in the epoch.
func (s *Source) Next(ctx context.Context) (*Batch, error) {
	n := s.opts.BatchSize
	if s.pos+n > len(s.order) {
		return nil, io.EOF
	}
	indices := s.order[s.pos : s.pos+n]
	s.pos += n

	size, channels := s.opts.ImageSize, s.opts.Channels
	per := channels * size * size
	batch := &Batch{
		Data:  make([]float32, n*per),
		Paths: make([]string, n),
		shape: tensor.Shape{n, channels, size, size},
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, idx := range indices {
		path := s.paths[idx]
		batch.Paths[i] = path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pixels, err := imageio.Load(path, size, channels)
			if err != nil {
				return &vae.IOError{Op: "read image", Path: path, Err: err}
			}
			copy(batch.Data[i*per:(i+1)*per], pixels)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return batch, nil
}

// Tensor wraps the batch data in a tensor on backend. The data is not copied.
func Tensor[B tensor.Backend](b *Batch, backend B) *tensor.Tensor[B] {
	raw, err := tensor.FromData(b.Data, b.shape, backend.Device())
	if err != nil {
		panic(fmt.Sprintf("dataset: %v", err))
	}
	return tensor.New(raw, backend)
}
