// Package logindex builds the frame index that makes seeking possible.
//
// One linear pass over a log records the byte offset of the first row of
// every distinct frame. The replayer combines that with the keyframe
// interval to jump straight to the nearest snapshot instead of rescanning
// the file.
package logindex
