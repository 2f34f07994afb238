package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/born-vae/internal/tensor"
)

// Version is recorded in every header written by this package.
var Version = "0.1.0"

// BornWriter writes state dicts in .born v2 format to an io.Writer.
type BornWriter struct {
	w io.Writer
}

// NewBornWriter creates a writer on top of w.
func NewBornWriter(w io.Writer) *BornWriter {
	return &BornWriter{w: w}
}

// WriteStateDict writes sd with the given header. Tensor metadata, format
// version and creation time in header are filled in by the writer.
func (w *BornWriter) WriteStateDict(sd *orderedmap.OrderedMap[string, *tensor.RawTensor], header Header) error {
	header.FormatVersion = FormatVersionV2
	if header.Version == "" {
		header.Version = Version
	}
	if header.CreatedAt.IsZero() {
		header.CreatedAt = time.Now().UTC()
	}
	if header.Metadata == nil {
		header.Metadata = make(map[string]string)
	}

	var (
		offset int64
		data   []byte
	)
	header.Tensors = make([]TensorMeta, 0, sd.Len())
	for pair := sd.Oldest(); pair != nil; pair = pair.Next() {
		if err := ValidateTensorName(pair.Key); err != nil {
			return err
		}
		raw := pair.Value
		size := int64(raw.ByteSize())
		header.Tensors = append(header.Tensors, TensorMeta{
			Name:   pair.Key,
			DType:  DTypeFloat32,
			Shape:  raw.Shape().Clone(),
			Offset: offset,
			Size:   size,
		})
		offset += size
		data = appendFloat32s(data, raw.Data())
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	fixedHeader := make([]byte, FixedHeaderSizeV2)
	copy(fixedHeader[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(fixedHeader[4:8], FormatVersionV2)

	flags := uint32(0)
	if len(header.Metadata) > 0 {
		flags |= FlagHasMetadata
	}
	if header.CheckpointMeta != nil && header.CheckpointMeta.IsCheckpoint {
		flags |= FlagHasOptimizer
	}
	binary.LittleEndian.PutUint32(fixedHeader[8:12], flags)
	binary.LittleEndian.PutUint64(fixedHeader[16:24], uint64(len(headerJSON)))
	binary.LittleEndian.PutUint64(fixedHeader[24:32], uint64(len(data)))

	checksum := sumData(data)
	copy(fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize], checksum[:])

	if _, err := w.w.Write(fixedHeader); err != nil {
		return fmt.Errorf("failed to write fixed header: %w", err)
	}
	if _, err := w.w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header JSON: %w", err)
	}

	pos := int64(FixedHeaderSizeV2) + int64(len(headerJSON))
	if padding := alignedOffset(pos) - pos; padding > 0 {
		if _, err := w.w.Write(make([]byte, padding)); err != nil {
			return fmt.Errorf("failed to write padding: %w", err)
		}
	}

	if _, err := w.w.Write(data); err != nil {
		return fmt.Errorf("failed to write tensor data: %w", err)
	}
	return nil
}

// SaveFile writes sd to path. The file is written to a temporary sibling and
// renamed into place, so an existing file at path is never left half written.
func SaveFile(path string, sd *orderedmap.OrderedMap[string, *tensor.RawTensor], header Header) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = NewBornWriter(buf).WriteStateDict(sd, header); err != nil {
		return err
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

func appendFloat32s(dst []byte, values []float32) []byte {
	for _, v := range values {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}
