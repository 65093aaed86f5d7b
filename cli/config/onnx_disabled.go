//go:build !onnx

package config

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/compact-memory/memory"
)

func (r *Runtime) onnxFactory(EmbedderSection) memory.EmbedderFactory {
	return func() (memory.Embedder, error) {
		return nil, goerr.Wrap(memory.ErrConfiguration, "onnx embedder needs a build with -tags onnx")
	}
}
