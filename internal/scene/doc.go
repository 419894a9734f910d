// Package scene defines the object model the recorder observes and the
// replayer reconstructs.
//
// Graph and UIToolkit are the narrow collaborator interfaces: the recorder
// reads names, paths, transforms, and control values through them, and the
// replayer issues create, destroy, reparent, activate, and synthetic
// interaction commands. Memory is a self-contained implementation of both,
// populated from YAML manifests, used by the CLI and by tests. Script drives
// a Memory scene through timed motion and events so sessions can be recorded
// without an interactive host.
package scene
