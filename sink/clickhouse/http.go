package clickhouse

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"

	"collector/sink"
)

const (
	HTTPDriver = "clickhouse-http"

	// maxErrBody caps how much of a failed response is kept for the log.
	maxErrBody = 512
)

// InsertQuery is the statement sent with every bulk write. Unknown fields in a
// row are skipped so producers can add fields ahead of the table schema.
func InsertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s SETTINGS input_format_skip_unknown_fields=1 FORMAT JSONEachRow", table)
}

// httpDriver posts JSONEachRow bodies to the ClickHouse HTTP interface.
type httpDriver struct {
	cfg    sink.Config
	client *http.Client
	query  string
}

func (d *httpDriver) Configure(cfg sink.Config) error {
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return fmt.Errorf("%s: bad url %q", HTTPDriver, cfg.URL)
	}
	if cfg.Table == "" {
		return fmt.Errorf("%s: table must be set", HTTPDriver)
	}
	d.cfg = cfg
	d.client = &http.Client{Timeout: cfg.Timeout}
	d.query = InsertQuery(cfg.Table)
	return nil
}

func (d *httpDriver) BulkWrite(ctx context.Context, records [][]byte) error {
	fail := func(status int, err error) error {
		return &sink.WriteError{Driver: HTTPDriver, Records: len(records), Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(sink.JoinRows(records)))
	if err != nil {
		return fail(0, err)
	}
	q := req.URL.Query()
	q.Set("query", d.query)
	req.URL.RawQuery = q.Encode()
	if d.cfg.User != "" {
		req.SetBasicAuth(d.cfg.User, d.cfg.Password)
	}
	req.Header.Set("Content-Type", "application/x-ndjson")

	resp, err := d.client.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fail(resp.StatusCode, errors.Errorf("clickhouse: %s", bytes.TrimSpace(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (d *httpDriver) Close() error {
	if d.client != nil {
		d.client.CloseIdleConnections()
	}
	return nil
}

func init() {
	sink.Register(HTTPDriver, func() sink.Adapter { return &httpDriver{} })
}
