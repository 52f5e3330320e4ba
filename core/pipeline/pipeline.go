package pipeline

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/sendflow/logger"
)

// StageFunc is one validation or transform step. Returning stop ends the run
// without error; returning an error ends the run and surfaces it unchanged.
// Later stages never run once a stage stops the chain.
type StageFunc func(ctx context.Context, st *State) (stop bool, err error)

type stage struct {
	name string
	fn   StageFunc
}

// Pipeline executes stages in fixed order against a shared State
type Pipeline struct {
	stages []stage
	logger logger.Interface
	tracer trace.Tracer
}

// NewPipeline creates an empty pipeline
func NewPipeline(log logger.Interface) *Pipeline {
	return &Pipeline{
		logger: log,
		tracer: otel.Tracer("sendflow/pipeline"),
	}
}

// Append adds a named stage to the end of the run order
func (p *Pipeline) Append(name string, fn StageFunc) *Pipeline {
	p.stages = append(p.stages, stage{name: name, fn: fn})
	return p
}

// Run drives the state through every stage, stopping at the first error or
// explicit stop. The failing stage's name is recorded on the trace span.
func (p *Pipeline) Run(ctx context.Context, st *State) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	begin := time.Now()
	var runErr error

	for _, s := range p.stages {
		stop, err := s.fn(ctx, st)
		if err != nil {
			span.SetAttributes(attribute.String("failed_stage", s.name))
			p.logger.Info(ctx, "chain stopped at %s: %v", s.name, err)
			runErr = err
			break
		}
		if stop {
			break
		}
	}

	p.logger.Trace(ctx, begin, func() (string, int64) {
		var tasks int64
		if st.Content != nil {
			tasks = int64(len(st.Content.Tasks))
		}
		return "pipeline.Run", tasks
	}, runErr)
	return runErr
}
