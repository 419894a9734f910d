// Package session drives the recording side of a live scene. A Session owns
// the per-tick order of work: the writer advances the frame, scripted input
// is applied, the registry detects changes and the capture gate processes
// acknowledgements. Sessions start and stop through the gate, so an
// external screen capture and the logs cover the same span.
package session
