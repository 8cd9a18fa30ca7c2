// Package job implements the recurring-job core: per-job single-flight
// latching, bounded admission, and dispatch of work onto cheap goroutines.
//
// The package owns no timer. An external tick source (see internal/cronfeed)
// calls Runner.OnTick at whatever cadence it likes; the Runner decides whether
// the tick runs, waits for admission, or is skipped.
package job
