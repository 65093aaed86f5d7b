package memory

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
)

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place.
func WriteFileAtomic(path string, data []byte) error {
	tmp, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return goerr.Wrap(err, "failed to rename temp file", goerr.V("path", path))
	}
	return nil
}

// writeTemp writes data to a new temp file next to path and returns its
// name. The caller renames or removes it.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return "", goerr.Wrap(err, "failed to create temp file", goerr.V("path", path))
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", goerr.Wrap(err, "failed to write temp file", goerr.V("path", path))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", goerr.Wrap(err, "failed to close temp file", goerr.V("path", path))
	}
	return tmp.Name(), nil
}

// WriteJSON encodes v as indented JSON at path atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return goerr.Wrap(err, "failed to encode json", goerr.V("path", path))
	}
	return WriteFileAtomic(path, data)
}

// ReadJSON decodes path into v. A missing or malformed file is
// ErrStorageCorruption.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mark(ErrStorageCorruption, err, "failed to read json file", goerr.V("path", path))
	}
	if err := json.Unmarshal(data, v); err != nil {
		return Mark(ErrStorageCorruption, err, "failed to parse json file", goerr.V("path", path))
	}
	return nil
}

// AppendJSONL appends one JSON line per record to path, creating it if
// needed.
func AppendJSONL[T any](path string, records []T) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return goerr.Wrap(err, "failed to open jsonl file", goerr.V("path", path))
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return goerr.Wrap(err, "failed to encode jsonl record", goerr.V("path", path))
		}
	}
	if err := w.Flush(); err != nil {
		return goerr.Wrap(err, "failed to flush jsonl file", goerr.V("path", path))
	}
	if err := f.Sync(); err != nil {
		return goerr.Wrap(err, "failed to sync jsonl file", goerr.V("path", path))
	}
	return nil
}

// ReadJSONL decodes every line of path. When allowMissing is set, a
// missing file reads as empty.
func ReadJSONL[T any](path string, allowMissing bool) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		if allowMissing && errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, Mark(ErrStorageCorruption, err, "failed to open jsonl file", goerr.V("path", path))
	}
	defer f.Close()
	return decodeJSONL[T](f, path)
}

// ReadJSONLPrefix decodes the first size bytes of path. Anything past size
// was appended by a save that never committed and is ignored.
func ReadJSONLPrefix[T any](path string, size int64) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Mark(ErrStorageCorruption, err, "failed to open jsonl file", goerr.V("path", path))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, Mark(ErrStorageCorruption, err, "failed to stat jsonl file", goerr.V("path", path))
	}
	if info.Size() < size {
		return nil, goerr.Wrap(ErrStorageCorruption, "jsonl file shorter than committed size",
			goerr.V("path", path), goerr.V("size", info.Size()), goerr.V("committed", size))
	}
	return decodeJSONL[T](io.LimitReader(f, size), path)
}

func decodeJSONL[T any](r io.Reader, path string) ([]T, error) {
	var out []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, Mark(ErrStorageCorruption, err, "failed to parse jsonl record", goerr.V("path", path), goerr.V("line", line))
		}
		out = append(out, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, Mark(ErrStorageCorruption, err, "failed to scan jsonl file", goerr.V("path", path))
	}
	return out, nil
}

// truncateLog cuts path back to its committed size before new records are
// appended.
func truncateLog(path string, size int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return Mark(ErrStorageCorruption, err, "failed to stat jsonl file", goerr.V("path", path))
	}
	if info.Size() < size {
		return goerr.Wrap(ErrStorageCorruption, "jsonl file shorter than committed size",
			goerr.V("path", path), goerr.V("size", info.Size()), goerr.V("committed", size))
	}
	if info.Size() == size {
		return nil
	}
	if err := os.Truncate(path, size); err != nil {
		return goerr.Wrap(err, "failed to drop uncommitted jsonl records", goerr.V("path", path))
	}
	return nil
}

func encodeJSONL[T any](path string, records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, goerr.Wrap(err, "failed to encode jsonl record", goerr.V("path", path))
		}
	}
	return buf.Bytes(), nil
}

// WriteJSONL replaces path with one JSON line per record, atomically.
func WriteJSONL[T any](path string, records []T) error {
	data, err := encodeJSONL(path, records)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}
