package routing

import (
	"github.com/nexus-gateway/nexus/logging"
)

// ErrorPolicy tags how the pipeline reacts to a reconciler error.
type ErrorPolicy string

const (
	// FailOpen reconciler errors are logged, annotated, and the pipeline
	// continues.
	FailOpen ErrorPolicy = "fail_open"
	// FailClosed reconciler errors abort the pipeline outright.
	FailClosed ErrorPolicy = "fail_closed"
)

// Reconciler is one stage of the fixed pipeline.
type Reconciler interface {
	Name() string
	Reconcile(intent *Intent) error
	ErrorPolicy() ErrorPolicy
}

// AbortError is returned by Run when a FailClosed reconciler errors;
// the Gateway uses it to build the 503 principal reason.
type AbortError struct {
	Reconciler string
	Err        error
}

func (e *AbortError) Error() string {
	return "routing: " + e.Reconciler + " aborted pipeline: " + e.Err.Error()
}

func (e *AbortError) Unwrap() error { return e.Err }

// Pipeline runs a fixed, ordered sequence of reconcilers over an
// Intent. Reconcilers execute strictly in order; each observes the
// mutations of every predecessor.
type Pipeline struct {
	stages []Reconciler
	logger *logging.Logger
}

// NewPipeline builds a Pipeline from the given stages, executed in the
// order provided.
func NewPipeline(stages ...Reconciler) *Pipeline {
	return &Pipeline{stages: stages, logger: logging.New("pipeline")}
}

// Run executes every stage against intent. A FailClosed error aborts
// immediately and is returned as *AbortError; a FailOpen error is
// logged and annotated, and the pipeline continues. "All candidates
// excluded" is never itself an error — it is left for the Scheduler
// stage to convert into a Reject decision.
func (p *Pipeline) Run(intent *Intent) error {
	for _, stage := range p.stages {
		if err := stage.Reconcile(intent); err != nil {
			if stage.ErrorPolicy() == FailClosed {
				return &AbortError{Reconciler: stage.Name(), Err: err}
			}
			p.logger.Warnf("", "", "reconciler failed, continuing", map[string]any{
				"reconciler": stage.Name(),
				"error":      err.Error(),
			})
			intent.Annotations.Excluded = append(intent.Annotations.Excluded, Exclusion{
				Reconciler:  stage.Name(),
				Reason:      "internal error: " + err.Error(),
				Remediation: "retry; this reconciler failed open and was skipped",
			})
		}
	}
	return nil
}
