//go:build ruleguard

// Package gorules contains custom linting rules for golangci-lint via ruleguard.
// They enforce the project's goroutine and logging conventions.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo detects goroutines tracked by hand instead of with wg.Go.
//
// Old pattern:
//
//	wg.Add(1)
//	go func() {
//	    defer wg.Done()
//	    run()
//	}()
//
// New pattern:
//
//	wg.Go(run)
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`go func() { defer $wg.Done(); $*_ }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) instead of Add/Done").
		Suggest("$wg.Go(func() { $*_ })")

	m.Match(`$wg.Add(1)`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("consider $wg.Go(), which calls Add(1) itself")
}

// StructuredLogFields detects formatted log messages; values belong in fields.
//
// Old pattern:
//
//	log.Info(fmt.Sprintf("subject %d analyzed", id))
//
// New pattern:
//
//	log.Info("subject analyzed", logger.Int("subject_id", id))
func StructuredLogFields(m dsl.Matcher) {
	m.Match(
		`$log.Trace(fmt.Sprintf($*_), $*_)`,
		`$log.Debug(fmt.Sprintf($*_), $*_)`,
		`$log.Info(fmt.Sprintf($*_), $*_)`,
		`$log.Warn(fmt.Sprintf($*_), $*_)`,
		`$log.Error(fmt.Sprintf($*_), $*_)`,
	).
		Where(m["log"].Type.Implements("github.com/faunavision/faunavision-go/internal/logger.Logger")).
		Report("use a constant message and logger fields instead of fmt.Sprintf")
}

// TimeFormatConstants detects magic layouts that have named constants.
func TimeFormatConstants(m dsl.Matcher) {
	m.Match(`$t.Format("2006-01-02 15:04:05")`).
		Suggest(`$t.Format(time.DateTime)`).
		Report(`use $t.Format(time.DateTime)`)

	m.Match(`$t.Format("2006-01-02T15:04:05Z07:00")`).
		Suggest(`$t.Format(time.RFC3339)`).
		Report(`use $t.Format(time.RFC3339)`)
}
