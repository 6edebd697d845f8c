package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"slices"

	"github.com/goccy/go-json"
)

type entry struct {
	dtype string
	shape []int
	data  []byte
}

// Writer accumulates tensors in memory and writes them as one container.
// Data is laid out in name order so identical inputs produce identical files.
type Writer struct {
	tensors  map[string]entry
	metadata map[string]string
}

func NewWriter() *Writer {
	return &Writer{tensors: make(map[string]entry)}
}

// SetMetadata records a free-form string in the __metadata__ header block.
func (w *Writer) SetMetadata(key, value string) {
	if w.metadata == nil {
		w.metadata = make(map[string]string)
	}
	w.metadata[key] = value
}

func (w *Writer) add(name, dtype string, shape []int, count, width int) ([]byte, error) {
	if _, dup := w.tensors[name]; dup {
		return nil, fmt.Errorf("tensor %s: already added", name)
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	if n != count {
		return nil, fmt.Errorf("tensor %s: shape %v holds %d elements, got %d", name, shape, n, count)
	}
	data := make([]byte, n*width)
	w.tensors[name] = entry{dtype: dtype, shape: slices.Clone(shape), data: data}
	return data, nil
}

func (w *Writer) AddF32(name string, shape []int, values []float32) error {
	data, err := w.add(name, F32, shape, len(values), 4)
	if err != nil {
		return err
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return nil
}

func (w *Writer) AddU8(name string, shape []int, values []uint8) error {
	data, err := w.add(name, U8, shape, len(values), 1)
	if err != nil {
		return err
	}
	copy(data, values)
	return nil
}

func (w *Writer) AddI8(name string, shape []int, values []int8) error {
	data, err := w.add(name, I8, shape, len(values), 1)
	if err != nil {
		return err
	}
	for i, v := range values {
		data[i] = byte(v)
	}
	return nil
}

func (w *Writer) AddI32(name string, shape []int, values []int32) error {
	data, err := w.add(name, I32, shape, len(values), 4)
	if err != nil {
		return err
	}
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return nil
}

// WriteFile writes the container to path, replacing any existing file.
func (w *Writer) WriteFile(path string) error {
	names := make([]string, 0, len(w.tensors))
	for name := range w.tensors {
		names = append(names, name)
	}
	slices.Sort(names)

	header := make(map[string]any, len(names)+1)
	if len(w.metadata) > 0 {
		header["__metadata__"] = w.metadata
	}
	var off int64
	for _, name := range names {
		e := w.tensors[name]
		end := off + int64(len(e.data))
		header[name] = tensorHeader{DType: e.dtype, Shape: e.shape, DataOffsets: []int64{off, end}}
		off = end
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	// Pad the header with spaces so the data section starts 8-byte aligned.
	if rem := len(headerBytes) % 8; rem != 0 {
		headerBytes = append(headerBytes, bytes.Repeat([]byte{' '}, 8-rem)...)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	_, _ = bw.Write(lenBuf[:])
	_, _ = bw.Write(headerBytes)
	for _, name := range names {
		_, _ = bw.Write(w.tensors[name].data)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
