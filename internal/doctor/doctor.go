// Package doctor runs connectivity and configuration checks for the
// portcullis client: config file, key availability, daemon reachability,
// the authenticated handshake, and clock agreement.
package doctor

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/portcullis/portcullis/internal/config"
)

// Params carries the client state the checkers inspect.
type Params struct {
	// ConfigPath is the client config file location.
	ConfigPath string
	// Config is the effective client configuration, defaults included.
	Config *config.ClientConfig
}

// Doctor orchestrates health checks for the portcullis client
type Doctor struct {
	checkers []Checker
	output   *Output
	options  Options
}

// New creates a Doctor with the default checker set
func New(opts Options, params Params) *Doctor {
	useColors := !opts.JSON && isTerminal(os.Stdout)
	return NewWithWriter(opts, params, os.Stdout, useColors)
}

// NewWithWriter creates a Doctor with a custom writer (useful for testing)
func NewWithWriter(opts Options, params Params, w io.Writer, useColors bool) *Doctor {
	if params.Config == nil {
		params.Config = config.DefaultClientConfig()
	}

	d := &Doctor{
		options: opts,
		output:  NewOutput(w, useColors),
	}
	d.registerDefaultCheckers(params)

	return d
}

func (d *Doctor) registerDefaultCheckers(p Params) {
	d.checkers = []Checker{
		NewConfigChecker(p.ConfigPath),
		NewKeyChecker(p.Config),
		NewReachabilityChecker(p.Config.Client.ServerAddr),
		NewHandshakeChecker(p.Config),
		NewClockChecker(p.Config),
	}
}

// AddChecker adds a custom checker
func (d *Doctor) AddChecker(c Checker) {
	d.checkers = append(d.checkers, c)
}

// Run executes all checks and returns a report
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Checks: make([]CheckResult, 0, len(d.checkers)),
	}

	checkers := d.filterCheckers()

	if d.options.JSON {
		// JSON mode runs silently and emits the report at the end
		for _, checker := range checkers {
			result := checker.Check(ctx)
			report.Checks = append(report.Checks, result)
			d.updateSummary(&report.Summary, result)
		}
		return report, d.outputJSON(report)
	}

	d.output.Header()

	for i, checker := range checkers {
		d.output.CheckStart(i+1, len(checkers), checker.Name())
		result := checker.Check(ctx)
		d.output.CheckResult(result)
		report.Checks = append(report.Checks, result)
		d.updateSummary(&report.Summary, result)
	}

	d.output.Summary(report.Summary)

	return report, nil
}

// filterCheckers returns checkers filtered by category if specified
func (d *Doctor) filterCheckers() []Checker {
	if d.options.Category == "" {
		return d.checkers
	}

	filtered := make([]Checker, 0)
	for _, c := range d.checkers {
		if c.Category() == d.options.Category {
			filtered = append(filtered, c)
		}
	}
	return filtered
}

func (d *Doctor) updateSummary(summary *Summary, result CheckResult) {
	summary.Total++
	switch result.Status {
	case StatusOK:
		summary.Passed++
	case StatusError:
		summary.Failed++
	case StatusWarning:
		summary.Warned++
	case StatusSkipped:
		summary.Skipped++
	}
}

func (d *Doctor) outputJSON(report *Report) error {
	enc := json.NewEncoder(d.output.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// isTerminal checks if the writer is a terminal
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		fi, err := f.Stat()
		if err != nil {
			return false
		}
		return (fi.Mode() & os.ModeCharDevice) != 0
	}
	return false
}
