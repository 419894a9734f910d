// Package logfile defines the on-disk recording format.
//
// A recording folder holds three comma-separated logs (transforms, UI
// events, custom variables), each starting with a fixed header row that acts
// as the schema, plus a recording.toml manifest. Rows are named-field
// structs; parsing failures surface as *MalformedRowError so readers can
// skip the row and continue. Every row occupies exactly one physical line,
// which lets OffsetReader report byte offsets usable as seek targets.
package logfile
