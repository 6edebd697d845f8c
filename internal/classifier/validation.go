package classifier

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// FileError reports a validation file that could not be read or written.
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s validation file %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// ParsePredictions reads whitespace-separated non-negative class indices.
func ParsePredictions(r io.Reader) ([]int, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	preds := []int{}
	for sc.Scan() {
		tok := sc.Text()
		v, err := strconv.ParseUint(tok, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("entry %d: invalid prediction %q", len(preds), tok)
		}
		preds = append(preds, int(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return preds, nil
}

// FormatPredictions writes one prediction per line.
func FormatPredictions(w io.Writer, preds []int) error {
	bw := bufio.NewWriter(w)
	for _, p := range preds {
		_, _ = bw.WriteString(strconv.Itoa(p))
		_ = bw.WriteByte('\n')
	}
	return bw.Flush()
}

// ReadPredictions loads a validation file. The returned slice is never nil, so
// an empty file still enables validation.
func ReadPredictions(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &FileError{Op: "open", Path: path, Err: err}
	}
	defer func() { _ = f.Close() }()

	preds, err := ParsePredictions(f)
	if err != nil {
		return nil, &FileError{Op: "parse", Path: path, Err: err}
	}
	return preds, nil
}

// WritePredictions truncates path and writes preds to it.
func WritePredictions(path string, preds []int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &FileError{Op: "open", Path: path, Err: err}
	}
	if err := FormatPredictions(f, preds); err != nil {
		_ = f.Close()
		return &FileError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &FileError{Op: "write", Path: path, Err: err}
	}
	return nil
}
