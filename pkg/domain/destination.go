package domain

import (
	"context"
	"io"
)

// Destination is where artifacts live. Write must never leave a partially
// written object under the returned locator.
type Destination interface {
	Write(ctx context.Context, name string, r io.Reader) (locator string, err error)
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
	Delete(ctx context.Context, locator string) error
}

// DestinationProvider builds the destination for a type from the given settings.
type DestinationProvider interface {
	Destination(DestinationType, Settings) (Destination, error)
}

// Dumper produces a plain SQL dump of the configured database.
type Dumper interface {
	Dump(ctx context.Context, db DatabaseSettings, w io.Writer) error
}

type StagingArea interface {
	Allocate() (string, error)
	Release(string) error
}
