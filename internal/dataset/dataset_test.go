package dataset

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-vae/internal/backend/cpu"
	"github.com/born-ml/born-vae/internal/tensor"
	"github.com/born-ml/born-vae/internal/vae"
)

// writeImages creates n solid-color PNGs whose red channel encodes the index.
func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	for i := range n {
		img := image.NewRGBA(image.Rect(0, 0, 20, 20))
		c := color.RGBA{R: uint8(i * 20), G: 128, B: 255, A: 255}
		for y := 0; y < 20; y++ {
			for x := 0; x < 20; x++ {
				img.Set(x, y, c)
			}
		}
		f, err := os.Create(filepath.Join(dir, "img"+strconv.Itoa(i)+".png"))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
	}
}

func testOptions() Options {
	return Options{ImageSize: 8, Channels: 3, BatchSize: 3, Workers: 2, Seed: 7}
}

func drain(t *testing.T, s *Source) [][]string {
	t.Helper()
	var batches [][]string
	for {
		b, err := s.Next(context.Background())
		if err == io.EOF {
			return batches
		}
		require.NoError(t, err)
		batches = append(batches, b.Paths)
	}
}

func TestOpen_ScansImagesOnly(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	sub := filepath.Join(dir, "nested")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeImages(t, sub, 2)

	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 6, s.Len())
	assert.Equal(t, 2, s.BatchesPerEpoch())
}

func TestNext_BatchContents(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 3)

	s, err := Open(dir, testOptions())
	require.NoError(t, err)

	b, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 3, 8, 8}, b.Shape())
	assert.Equal(t, 3, b.Len())
	require.Len(t, b.Data, 3*3*8*8)

	// Each image is placed in its own slot: green plane is 128/255 everywhere.
	for i := range 3 {
		green := b.Data[i*192+64]
		assert.InDelta(t, 128.0/255, green, 1e-3)
	}

	x := Tensor(b, cpu.New())
	assert.Equal(t, tensor.Shape{3, 3, 8, 8}, x.Shape())
}

func TestEpochs_DropPartialAndReshuffle(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 10)

	s, err := Open(dir, testOptions())
	require.NoError(t, err)

	first := drain(t, s)
	require.Len(t, first, 3) // 10 images, batch 3: last image dropped

	seen := map[string]bool{}
	for _, b := range first {
		for _, p := range b {
			assert.False(t, seen[p], "duplicate %s", p)
			seen[p] = true
		}
	}

	s.StartEpoch(0)
	assert.Equal(t, first, drain(t, s), "same epoch and seed gives the same order")

	s.StartEpoch(1)
	assert.Equal(t, 1, s.Epoch())
	assert.NotEqual(t, first, drain(t, s))
}

func TestSkip(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 9)

	s, err := Open(dir, testOptions())
	require.NoError(t, err)
	all := drain(t, s)

	s.StartEpoch(0)
	s.Skip(2)
	assert.Equal(t, all[2:], drain(t, s))

	s.StartEpoch(0)
	s.Skip(10)
	assert.Empty(t, drain(t, s))
}

func TestOpen_Errors(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 2)

	_, err := Open(dir, testOptions())
	assert.ErrorIs(t, err, ErrTooFewImages)

	_, err = Open(filepath.Join(dir, "missing"), testOptions())
	assert.ErrorIs(t, err, vae.ErrIO)

	bad := testOptions()
	bad.Channels = 2
	_, err = Open(dir, bad)
	assert.Error(t, err)
}

func TestNext_CorruptImage(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 2)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("garbage"), 0o600))

	s, err := Open(dir, testOptions())
	require.NoError(t, err)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, vae.ErrIO)
	var ioErr *vae.IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, filepath.Join(dir, "broken.png"), ioErr.Path)
}

func TestNext_Canceled(t *testing.T) {
	dir := t.TempDir()
	writeImages(t, dir, 3)

	s, err := Open(dir, testOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
