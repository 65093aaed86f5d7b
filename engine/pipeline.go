package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/compact-memory/core"
	"github.com/becomeliminal/compact-memory/logging"
	"github.com/becomeliminal/compact-memory/memory"
)

// PipelineID is the registry id of Pipeline.
const PipelineID = "pipeline"

// ErrEmptyPipeline is returned when a pipeline has no stages. It also
// matches memory.ErrConfiguration.
var ErrEmptyPipeline = goerr.New("pipeline has no stages")

// StageError reports the pipeline stage that failed.
type StageError struct {
	Index    int
	EngineID string
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index, e.EngineID, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline runs engines in order. Each stage after the first receives the
// previous stage's result through core.WithPrevious.
type Pipeline struct {
	stages []core.Engine
}

// NewPipeline creates a pipeline over stages.
func NewPipeline(stages ...core.Engine) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, memory.Mark(ErrEmptyPipeline, memory.ErrConfiguration, "cannot build pipeline")
	}
	for i, s := range stages {
		if s == nil {
			return nil, goerr.Wrap(memory.ErrConfiguration, "pipeline stage is nil", goerr.V("stage", i))
		}
	}
	return &Pipeline{stages: append([]core.Engine(nil), stages...)}, nil
}

// NewPipelineFromIDs builds every stage through reg. params["<id>"], when
// it is a map, is passed to that stage's factory.
func NewPipelineFromIDs(reg *Registry, ids []string, params map[string]any) (*Pipeline, error) {
	if len(ids) == 0 {
		return nil, memory.Mark(ErrEmptyPipeline, memory.ErrConfiguration, "cannot build pipeline")
	}
	stages := make([]core.Engine, 0, len(ids))
	for _, id := range ids {
		if id == PipelineID {
			return nil, goerr.Wrap(memory.ErrConfiguration, "pipeline cannot nest itself by id")
		}
		stageParams, _ := params[id].(map[string]any)
		e, err := reg.New(id, stageParams)
		if err != nil {
			return nil, err
		}
		stages = append(stages, e)
	}
	return NewPipeline(stages...)
}

// ID implements core.Engine.
func (p *Pipeline) ID() string {
	return PipelineID
}

// Stages returns the stage engine ids in order.
func (p *Pipeline) Stages() []string {
	ids := make([]string, len(p.stages))
	for i, s := range p.stages {
		ids[i] = s.ID()
	}
	return ids
}

// Compress implements core.Engine. The first failing stage stops the
// pipeline; its error is wrapped in a *StageError.
func (p *Pipeline) Compress(ctx context.Context, text string, budget int, opts ...core.CompressOption) (*core.CompressedMemory, error) {
	logger := logging.From(ctx)

	var prev *core.CompressedMemory
	summaries := make([]core.StageSummary, 0, len(p.stages))
	for i, stage := range p.stages {
		stageOpts := opts
		if prev != nil {
			stageOpts = append(append([]core.CompressOption(nil), opts...), core.WithPrevious(prev))
		}

		start := time.Now()
		out, err := stage.Compress(ctx, text, budget, stageOpts...)
		if err != nil {
			return nil, goerr.Wrap(&StageError{Index: i, EngineID: stage.ID(), Err: err},
				"pipeline stage failed", goerr.V("stage", i), goerr.V("engine_id", stage.ID()))
		}
		elapsed := time.Since(start)
		summaries = append(summaries, core.StageSummary{Index: i, EngineID: stage.ID(), Duration: elapsed})
		logger.Debug("pipeline stage done", "stage", i, "engine_id", stage.ID(), "duration", elapsed)
		prev = out
	}

	var trace *core.CompressionTrace
	if prev.Trace != nil {
		trace = prev.Trace.Clone()
	} else {
		trace = &core.CompressionTrace{EngineName: prev.EngineID}
	}
	trace.Stages = summaries
	return prev.WithTrace(trace), nil
}
