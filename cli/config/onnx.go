//go:build onnx

package config

import (
	"github.com/becomeliminal/compact-memory/logging"
	"github.com/becomeliminal/compact-memory/memory"
	"github.com/becomeliminal/compact-memory/memory/embedder/onnx"
)

func (r *Runtime) onnxFactory(s EmbedderSection) memory.EmbedderFactory {
	return func() (memory.Embedder, error) {
		e, err := onnx.New(onnx.Config{
			ModelPath:         s.ModelPath,
			TokenizerPath:     s.TokenizerPath,
			SharedLibraryPath: s.SharedLibrary,
			Dimensions:        s.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() {
			if err := e.Close(); err != nil {
				logging.Default().Warn("failed to close onnx embedder", "error", err)
			}
		})
		return r.withCache(e, s.CacheMB)
	}
}
