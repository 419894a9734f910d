// Package main hosts the retrace CLI.
//
// record runs a scene session and writes its transform and UI logs, index
// and replay read them back, list and export manage the recordings folder,
// and transfer moves logs between machines. Commands share lazily loaded
// configuration and logging through commandContext.
package main
