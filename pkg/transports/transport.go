// Package transports holds the contracts shared by the ways an engine is
// exposed to a front end.
package transports

import "context"

// Transport serves an engine until Stop or until the ctx given to Start ends.
// Start must not block.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

// ReadyReporter is optional. Its fields are logged once the transport is up,
// e.g. the bound address.
type ReadyReporter interface {
	ReadyFields() map[string]any
}
