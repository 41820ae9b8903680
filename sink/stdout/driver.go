// Package stdout is a debug sink: every bulk write is printed as
// newline-delimited rows, optionally prefixed with a batch header.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"collector/sink"
)

type driver struct {
	mu  sync.Mutex // serializes writes to out
	out io.Writer
	seq uint64
}

func (d *driver) Configure(sink.Config) error {
	if d.out == nil {
		d.out = os.Stdout
	}
	return nil
}

func (d *driver) BulkWrite(_ context.Context, records [][]byte) error {
	n := atomic.AddUint64(&d.seq, 1)

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := fmt.Fprintf(d.out, "# batch %06d records=%d\n", n, len(records)); err != nil {
		return &sink.WriteError{Driver: "stdout", Records: len(records), Err: err}
	}
	if _, err := d.out.Write(sink.JoinRows(records)); err != nil {
		return &sink.WriteError{Driver: "stdout", Records: len(records), Err: err}
	}
	return nil
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
