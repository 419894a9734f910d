// Package preflight provides readiness checks for the filesystem paths and
// external services retrace depends on.
//
// These checks run in two contexts:
//   - "retrace record" calls RunAll before starting a session. A failed
//     check aborts the run instead of losing a participant's session to a
//     full disk or an unreachable recorder.
//   - "retrace status" prints every result, including the dependency table
//     and the latest recording probe.
//
// Each service check is gated by its config toggle; disabled features are
// skipped.
package preflight
