package connector

import "context"

// Runner is the entry point every connector implements; the orchestrator and
// the CLI address connectors only through it.
type Runner interface {
	JobName() string
	Run(ctx context.Context, referencePeriod string, opts RunOptions) Result
}

// DefinitionRunner adapts a tabular Definition to the Runner contract.
type DefinitionRunner struct {
	Engine *Engine
	Def    Definition
}

func (r DefinitionRunner) JobName() string {
	return r.Def.JobName
}

func (r DefinitionRunner) Run(ctx context.Context, referencePeriod string, opts RunOptions) Result {
	return r.Engine.Run(ctx, r.Def, referencePeriod, opts)
}
