// Package replay reconstructs a recorded session inside a fresh copy of the
// scene.
//
// State owns the replay copy and the bindings from logged identifiers to
// live objects. Engine reads the transform and UI logs through seekable
// cursors, applies one frame per Tick and implements seeking by restoring
// the nearest keyframe and catching up to the target. Rows that cannot be
// parsed or resolved are logged and skipped; playback never stops because
// of one bad row.
package replay
