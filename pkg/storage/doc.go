// Package storage manages the browser download directory.
//
// Before each scrape the directory is emptied so that the report picked
// up afterwards is the one this run downloaded. WaitForArtifact replaces a
// fixed sleep after clicking download: it polls until a completed file is
// present, ignoring Chrome's .crdownload partials.
package storage
