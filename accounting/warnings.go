package accounting

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Severity classifies a structural anomaly per the error handling design:
// soft warnings are cosmetic or pedantic divergences, hard warnings are
// on-disk inconsistencies a repair tool would flag as an error.
type Severity int

// SeveritySoft is severity 0 ("soft warning") and SeverityHard is severity 1
// ("hard warning"), matching the numbering in the error handling design
// (§7): a hard warning is what trips the nonzero exit code.
const (
	SeveritySoft Severity = iota
	SeverityHard
)

func (s Severity) String() string {
	if s == SeverityHard {
		return "warning"
	}
	return "notice"
}

// entry pairs a message with its severity; it satisfies the error interface
// so it can be appended to a *multierror.Error.
type entry struct {
	severity Severity
	message  string
}

func (e entry) Error() string {
	return fmt.Sprintf("[%s] %s", e.severity, e.message)
}

// Warnings accumulates every structural anomaly found during a walk without
// aborting it -- the catch-and-continue policy in §1/§7. It wraps
// hashicorp/go-multierror, the library the teacher's go.mod already declares
// for exactly this "collect independent errors from a process that must
// keep going" use case.
type Warnings struct {
	errs       *multierror.Error
	hardCount  int
	softCount  int
}

// NewWarnings returns an empty collector.
func NewWarnings() *Warnings {
	return &Warnings{errs: &multierror.Error{}}
}

// Add records one warning at the given severity.
func (w *Warnings) Add(severity Severity, message string) {
	w.errs = multierror.Append(w.errs, entry{severity: severity, message: message})
	if severity == SeverityHard {
		w.hardCount++
	} else {
		w.softCount++
	}
}

// Addf is Add with fmt.Sprintf-style formatting.
func (w *Warnings) Addf(severity Severity, format string, args ...any) {
	w.Add(severity, fmt.Sprintf(format, args...))
}

// HardCount returns the number of severity-1 (hard) warnings recorded.
func (w *Warnings) HardCount() int {
	return w.hardCount
}

// SoftCount returns the number of severity-0 (soft) warnings recorded.
func (w *Warnings) SoftCount() int {
	return w.softCount
}

// Clean reports whether no hard warnings were recorded. Per §8's shadow
// bitmap consistency property and §6's exit code rules, this is the
// condition that must hold for a walk to be considered successful.
func (w *Warnings) Clean() bool {
	return w.hardCount == 0
}

// All returns every recorded warning as a flat slice of error values, in the
// order they were added.
func (w *Warnings) All() []error {
	if w.errs == nil {
		return nil
	}
	return w.errs.Errors
}

// Error implements the error interface, rendering every accumulated warning.
// Useful for dumping the full report in one shot, e.g. to a log file.
func (w *Warnings) Error() string {
	return w.errs.Error()
}
