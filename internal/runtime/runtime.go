// Package runtime executes the processing step of one batch. The worker agent
// stages input files into a directory, hands it to a Runner, and uploads
// whatever the Runner leaves in the output directory.
package runtime

import "context"

// Paths a runner can rely on inside the container.
const (
	ContainerInputDir  = "/work/input"
	ContainerOutputDir = "/work/output"
)

// RunSpec describes one batch execution.
type RunSpec struct {
	BatchID   string
	InputDir  string            // local directory holding the downloaded input files
	OutputDir string            // local directory the runner must write results to
	Env       map[string]string // extra environment for the processing command
}

// Runner executes the processing command for one batch.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) error
}
