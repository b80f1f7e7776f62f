// Package diag appends one-line run records to a log file, so repeated
// solver invocations accumulate a comparable history.
package diag

import (
	"fmt"
	"os"
	"time"
)

// Record summarizes one solve.
type Record struct {
	When       time.Time
	Elements   int
	Subdomains int
	Ranks      int
	Penalty    float64
	Iterations int
	Converged  bool
	Residual   float64
	L2Error    float64
	WallClock  time.Duration
}

func (r Record) String() string {
	return fmt.Sprintf("%s elems=%d subdomains=%d ranks=%d p=%.6g iters=%d converged=%t resid=%.3e l2=%.6e wall=%s",
		r.When.Format(time.RFC3339), r.Elements, r.Subdomains, r.Ranks,
		r.Penalty, r.Iterations, r.Converged, r.Residual, r.L2Error, r.WallClock)
}

// Append writes the record to path, creating the file if needed.
func Append(path string, r Record) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("diag: opening %s: %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, r.String()); err != nil {
		return fmt.Errorf("diag: writing %s: %w", path, err)
	}
	return nil
}
