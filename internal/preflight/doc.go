// Package preflight validates the environment before first use and for
// the doctor command.
//
// The package checks:
//   - State directory writability (the only fatal check)
//   - Free disk space at the repository root
//   - Open-file limit against the repository's directory count
//   - First-run marker recording when checks last passed
//
// Use the Checker type to run all validations:
//
//	checker := preflight.New()
//	results := checker.RunAll(ctx, "/path/to/repo")
//	if checker.HasCriticalFailures(results) {
//	    // Refuse to proceed
//	}
package preflight
