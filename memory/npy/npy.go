// Package npy reads and writes float32 matrices in the NumPy .npy v1.0
// format (little-endian '<f4', C order, 2-D).
package npy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// ErrFormat reports a file that is not a supported .npy matrix.
var ErrFormat = goerr.New("invalid npy data")

var magic = []byte("\x93NUMPY")

const headerAlign = 64

// Write encodes rows as a rows×dim matrix. Every row must have length dim.
func Write(w io.Writer, rows [][]float32, dim int) error {
	for i, row := range rows {
		if len(row) != dim {
			return goerr.Wrap(ErrFormat, "ragged matrix", goerr.V("row", i), goerr.V("len", len(row)), goerr.V("dim", dim))
		}
	}

	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': (%d, %d), }", len(rows), dim)
	// magic(6) + version(2) + header length(2) + header + '\n'
	total := len(magic) + 4 + len(header) + 1
	if pad := total % headerAlign; pad != 0 {
		header += strings.Repeat(" ", headerAlign-pad)
	}
	header += "\n"

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)

	buf := make([]byte, 4)
	for _, row := range rows {
		for _, v := range row {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(v))
			bw.Write(buf)
		}
	}
	if err := bw.Flush(); err != nil {
		return goerr.Wrap(err, "failed to write npy data")
	}
	return nil
}

var (
	descrRe   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranRe = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapeRe   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Read decodes a 2-D '<f4' matrix and returns its rows and column count.
func Read(r io.Reader) ([][]float32, int, error) {
	br := bufio.NewReader(r)

	pre := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(br, pre); err != nil {
		return nil, 0, goerr.Wrap(fmt.Errorf("%w: %w", ErrFormat, err), "failed to read npy preamble")
	}
	if !bytes.Equal(pre[:len(magic)], magic) {
		return nil, 0, goerr.Wrap(ErrFormat, "bad npy magic")
	}

	var headerLen int
	switch pre[len(magic)] {
	case 1:
		var n uint16
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, 0, goerr.Wrap(fmt.Errorf("%w: %w", ErrFormat, err), "failed to read npy header length")
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(br, binary.LittleEndian, &n); err != nil {
			return nil, 0, goerr.Wrap(fmt.Errorf("%w: %w", ErrFormat, err), "failed to read npy header length")
		}
		headerLen = int(n)
	default:
		return nil, 0, goerr.Wrap(ErrFormat, "unsupported npy version", goerr.V("major", pre[len(magic)]))
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, 0, goerr.Wrap(fmt.Errorf("%w: %w", ErrFormat, err), "failed to read npy header")
	}
	rows, dim, err := parseHeader(string(header))
	if err != nil {
		return nil, 0, err
	}

	out := make([][]float32, rows)
	buf := make([]byte, 4*dim)
	for i := range out {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, 0, goerr.Wrap(fmt.Errorf("%w: %w", ErrFormat, err), "truncated npy data", goerr.V("row", i))
		}
		row := make([]float32, dim)
		for j := range row {
			row[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:]))
		}
		out[i] = row
	}
	return out, dim, nil
}

func parseHeader(h string) (int, int, error) {
	m := descrRe.FindStringSubmatch(h)
	if m == nil || m[1] != "<f4" {
		return 0, 0, goerr.Wrap(ErrFormat, "unsupported npy dtype", goerr.V("header", h))
	}
	if m := fortranRe.FindStringSubmatch(h); m == nil || m[1] != "False" {
		return 0, 0, goerr.Wrap(ErrFormat, "fortran order not supported")
	}
	m = shapeRe.FindStringSubmatch(h)
	if m == nil {
		return 0, 0, goerr.Wrap(ErrFormat, "missing npy shape", goerr.V("header", h))
	}

	var dims []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, 0, goerr.Wrap(ErrFormat, "bad npy shape", goerr.V("shape", m[1]))
		}
		dims = append(dims, n)
	}
	if len(dims) != 2 {
		return 0, 0, goerr.Wrap(ErrFormat, "npy matrix must be 2-D", goerr.V("shape", m[1]))
	}
	return dims[0], dims[1], nil
}

// WriteFile writes the matrix to path through a temp file and rename.
func WriteFile(path string, rows [][]float32, dim int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return goerr.Wrap(err, "failed to create temp file", goerr.V("path", path))
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, rows, dim); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temp file", goerr.V("path", path))
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return goerr.Wrap(err, "failed to rename npy file", goerr.V("path", path))
	}
	return nil
}

// ReadFile reads a matrix written by WriteFile (or numpy.save).
func ReadFile(path string) ([][]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to open npy file", goerr.V("path", path))
	}
	defer f.Close()

	rows, dim, err := Read(f)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to decode npy file", goerr.V("path", path))
	}
	return rows, dim, nil
}
