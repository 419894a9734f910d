// Package transfer moves finished recording logs to another machine.
//
// A Sender reads a recording's transform and UI logs, packs rows into
// flate-compressed binary batches and pushes them over a websocket. The
// receiving Handler decodes each batch and appends the rows, re-expanded to
// CSV, to {origin}_transform_data.csv and {origin}_ui_event_data.csv in its
// save folder. Closing a stream is acknowledged with the number of rows the
// receiver stored.
package transfer
