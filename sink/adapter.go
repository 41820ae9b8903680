package sink

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Config is the union of driver settings; each driver reads what it needs.
type Config struct {
	URL      string
	User     string
	Password string
	Database string
	Table    string
	Timeout  time.Duration

	Brokers      []string
	Topic        string
	RequiredAcks int16
}

// Adapter is the common behaviour every sink exposes.
type Adapter interface {
	Configure(Config) error
	// BulkWrite persists records, in order, as one request. Failures are
	// returned as *WriteError.
	BulkWrite(ctx context.Context, records [][]byte) error
	Close() error
}

// WriteError reports a failed bulk write. Every WriteError is transient from
// the caller's point of view: the same batch may be retried.
type WriteError struct {
	Driver  string
	Records int
	// Status is the HTTP status for http drivers, 0 otherwise.
	Status int
	Err    error
}

func (e *WriteError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: write of %d records failed (status %d): %v", e.Driver, e.Records, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: write of %d records failed: %v", e.Driver, e.Records, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// JoinRows concatenates records as newline-delimited rows, with a trailing
// newline after the last one.
func JoinRows(records [][]byte) []byte {
	n := 0
	for _, r := range records {
		n += len(r) + 1
	}
	var buf bytes.Buffer
	buf.Grow(n)
	for _, r := range records {
		buf.Write(r)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

/*──────── registry ───────*/

type factory = func() Adapter

var (
	mu  sync.RWMutex
	reg = map[string]factory{}
)

func Register(name string, f factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

func NewAdapter(name string) (Adapter, error) {
	mu.RLock()
	defer mu.RUnlock()
	if f, ok := reg[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("unknown sink %q (have %v)", name, names())
}

func names() []string {
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
