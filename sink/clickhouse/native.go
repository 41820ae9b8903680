package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"

	"collector/sink"
)

const NativeDriver = "clickhouse-native"

// nativeDriver inserts over the native protocol. The JSONEachRow rows travel
// inline after the FORMAT clause, so the table schema stays opaque here as
// well.
type nativeDriver struct {
	cfg  sink.Config
	conn ch.Conn
}

func (d *nativeDriver) Configure(cfg sink.Config) error {
	if cfg.Table == "" {
		return fmt.Errorf("%s: table must be set", NativeDriver)
	}
	addr := strings.TrimPrefix(strings.TrimPrefix(cfg.URL, "clickhouse://"), "tcp://")
	conn, err := ch.Open(&ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
		ReadTimeout: cfg.Timeout,
		Compression: &ch.Compression{Method: ch.CompressionLZ4},
	})
	if err != nil {
		return errors.WithMessagef(err, "could not connect to clickhouse on %s", addr)
	}
	d.cfg, d.conn = cfg, conn
	return nil
}

func (d *nativeDriver) BulkWrite(ctx context.Context, records [][]byte) error {
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}
	ctx = ch.Context(ctx, ch.WithSettings(ch.Settings{
		"input_format_skip_unknown_fields": 1,
	}))
	query := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow\n%s", d.cfg.Table, sink.JoinRows(records))
	if err := d.conn.Exec(ctx, query); err != nil {
		return &sink.WriteError{Driver: NativeDriver, Records: len(records), Err: err}
	}
	return nil
}

func (d *nativeDriver) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

func init() {
	sink.Register(NativeDriver, func() sink.Adapter { return &nativeDriver{} })
}
