package serialization

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/born-ml/born-vae/internal/tensor"
)

// BornReader reads tensors from a .born file.
type BornReader struct {
	file       *os.File
	header     Header
	flags      uint32
	dataOffset int64    // Offset where tensor data starts
	dataSize   int64    // Size of the data section
	checksum   [32]byte // SHA-256 of the data section
	opts       ReaderOptions
	closed     bool
}

// ReaderOptions configures the behavior of BornReader.
type ReaderOptions struct {
	SkipChecksumValidation bool // Only the header is needed (e.g. listing checkpoints)
}

// NewBornReader opens path, validates its header and verifies the data checksum.
func NewBornReader(path string) (*BornReader, error) {
	return NewBornReaderWithOptions(path, ReaderOptions{})
}

// NewBornReaderWithOptions opens path with custom options.
func NewBornReaderWithOptions(path string, opts ReaderOptions) (*BornReader, error) {
	//nolint:gosec // G304: model paths come from the user
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	reader := &BornReader{
		file: file,
		opts: opts,
	}
	if err := reader.parseHeader(); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}
	return reader, nil
}

// parseHeader reads the fixed header and JSON header, then validates both
// against the file size and, unless skipped, the stored checksum.
func (r *BornReader) parseHeader() error {
	fixedHeader := make([]byte, FixedHeaderSizeV2)
	if _, err := io.ReadFull(r.file, fixedHeader); err != nil {
		return fmt.Errorf("%w: fixed header: %w", ErrTruncated, err)
	}

	if string(fixedHeader[0:4]) != MagicBytes {
		return ErrInvalidMagic
	}
	if version := binary.LittleEndian.Uint32(fixedHeader[4:8]); version != FormatVersionV2 {
		return fmt.Errorf("%w: got %d, expected %d", ErrUnsupportedVersion, version, FormatVersionV2)
	}

	r.flags = binary.LittleEndian.Uint32(fixedHeader[8:12])
	headerSize := binary.LittleEndian.Uint64(fixedHeader[16:24])
	dataSize := binary.LittleEndian.Uint64(fixedHeader[24:32])
	copy(r.checksum[:], fixedHeader[ChecksumOffsetV2:ChecksumOffsetV2+ChecksumSize])

	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, headerBytes); err != nil {
		return fmt.Errorf("%w: header JSON: %w", ErrTruncated, err)
	}
	if err := json.Unmarshal(headerBytes, &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}

	//nolint:gosec // G115: headerSize is bounded by MaxHeaderSize
	r.dataOffset = alignedOffset(int64(FixedHeaderSizeV2) + int64(headerSize))

	info, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	//nolint:gosec // G115: compared against the real file size below
	r.dataSize = int64(dataSize)
	if r.dataOffset+r.dataSize > info.Size() {
		return fmt.Errorf("%w: data section needs %d bytes, file has %d",
			ErrTruncated, r.dataOffset+r.dataSize, info.Size())
	}

	if err := ValidateHeader(&r.header, r.dataSize); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !r.opts.SkipChecksumValidation {
		if err := verifyData(io.NewSectionReader(r.file, r.dataOffset, r.dataSize), r.checksum); err != nil {
			return err
		}
	}
	return nil
}

// Header returns the file header.
func (r *BornReader) Header() Header {
	return r.header
}

// Metadata returns the metadata map from the header.
func (r *BornReader) Metadata() map[string]string {
	return r.header.Metadata
}

// HasOptimizerState reports whether the file was written as a checkpoint.
func (r *BornReader) HasOptimizerState() bool {
	return r.flags&FlagHasOptimizer != 0
}

// TensorNames returns all tensor names in file order.
func (r *BornReader) TensorNames() []string {
	names := make([]string, len(r.header.Tensors))
	for i, meta := range r.header.Tensors {
		names[i] = meta.Name
	}
	return names
}

// TensorInfo returns information about a specific tensor.
func (r *BornReader) TensorInfo(name string) (*TensorMeta, error) {
	for _, meta := range r.header.Tensors {
		if meta.Name == name {
			return &meta, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
}

// LoadTensor loads a single tensor from the file.
func (r *BornReader) LoadTensor(name string) (*tensor.RawTensor, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}

	meta, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, meta.Size)
	if _, err := r.file.ReadAt(buf, r.dataOffset+meta.Offset); err != nil {
		return nil, fmt.Errorf("failed to read tensor %s: %w", name, err)
	}

	raw, err := tensor.NewRaw(tensor.Shape(meta.Shape), tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to create tensor %s: %w", name, err)
	}
	data := raw.Data()
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return raw, nil
}

// ReadStateDict reads all tensors, in file order.
func (r *BornReader) ReadStateDict() (*orderedmap.OrderedMap[string, *tensor.RawTensor], error) {
	if r.closed {
		return nil, ErrReaderClosed
	}

	sd := orderedmap.New[string, *tensor.RawTensor](len(r.header.Tensors))
	for _, meta := range r.header.Tensors {
		raw, err := r.LoadTensor(meta.Name)
		if err != nil {
			return nil, err
		}
		sd.Set(meta.Name, raw)
	}
	return sd, nil
}

// Close closes the reader and the underlying file.
func (r *BornReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}

// LoadFile reads the header and every tensor of path.
func LoadFile(path string) (*orderedmap.OrderedMap[string, *tensor.RawTensor], Header, error) {
	reader, err := NewBornReader(path)
	if err != nil {
		return nil, Header{}, err
	}
	defer reader.Close()

	sd, err := reader.ReadStateDict()
	if err != nil {
		return nil, Header{}, err
	}
	return sd, reader.Header(), nil
}

// ReadHeader returns the header of path without loading or verifying tensor data.
func ReadHeader(path string) (Header, error) {
	reader, err := NewBornReaderWithOptions(path, ReaderOptions{SkipChecksumValidation: true})
	if err != nil {
		return Header{}, err
	}
	defer reader.Close()
	return reader.Header(), nil
}
