// Package api exposes the job service over HTTP with huma: task submission,
// inspection, cancellation, buffered output and server-sent event streams.
package api
