package npy_test

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/becomeliminal/compact-memory/memory/npy"
	"github.com/m-mizutani/gt"
)

func TestRoundTrip(t *testing.T) {
	rows := [][]float32{
		{1, 0, -0.5},
		{0.25, 3.5, 7},
	}
	path := filepath.Join(t.TempDir(), "vectors.npy")
	gt.NoError(t, npy.WriteFile(path, rows, 3)).Required()

	got, dim, err := npy.ReadFile(path)
	gt.NoError(t, err).Required()
	gt.Value(t, dim).Equal(3)
	gt.Value(t, got).Equal(rows)
}

func TestHeaderIsAligned(t *testing.T) {
	var buf bytes.Buffer
	gt.NoError(t, npy.Write(&buf, [][]float32{{1, 2}}, 2)).Required()

	data := buf.Bytes()
	gt.Value(t, string(data[:6])).Equal("\x93NUMPY")
	headerLen := int(data[8]) | int(data[9])<<8
	gt.Value(t, (10+headerLen)%64).Equal(0)
	gt.Value(t, data[10+headerLen-1]).Equal(byte('\n'))
	gt.String(t, string(data[10:10+headerLen])).Contains("'shape': (1, 2)")
	gt.Value(t, len(data)).Equal(10 + headerLen + 8)
}

func TestEmptyMatrix(t *testing.T) {
	var buf bytes.Buffer
	gt.NoError(t, npy.Write(&buf, nil, 4)).Required()

	rows, dim, err := npy.Read(&buf)
	gt.NoError(t, err).Required()
	gt.Array(t, rows).Length(0)
	gt.Value(t, dim).Equal(4)
}

func TestRaggedRowsRejected(t *testing.T) {
	var buf bytes.Buffer
	err := npy.Write(&buf, [][]float32{{1, 2}, {3}}, 2)
	gt.Error(t, err).Is(npy.ErrFormat)
}

func TestReadRejectsBadInput(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		_, _, err := npy.Read(bytes.NewReader([]byte("not a numpy file at all")))
		gt.Error(t, err).Is(npy.ErrFormat)
	})

	t.Run("truncated data", func(t *testing.T) {
		var buf bytes.Buffer
		gt.NoError(t, npy.Write(&buf, [][]float32{{1, 2}, {3, 4}}, 2)).Required()
		data := buf.Bytes()[:buf.Len()-3]
		_, _, err := npy.Read(bytes.NewReader(data))
		gt.Error(t, err).Is(npy.ErrFormat)
	})

	t.Run("empty", func(t *testing.T) {
		_, _, err := npy.Read(bytes.NewReader(nil))
		gt.Bool(t, errors.Is(err, npy.ErrFormat)).True()
	})
}
