// Package queue holds probe results awaiting link extraction.
package queue

import "time"

// Item is a probed response whose body may carry links.
type Item struct {
	// Key is "METHOD /path" of the record that produced the body.
	Key         string
	URL         string
	Path        string
	Method      string
	Depth       int
	Source      string
	StatusCode  int
	ContentType string
	Body        []byte
	Location    string
	Timestamp   time.Time

	seq uint64
}
