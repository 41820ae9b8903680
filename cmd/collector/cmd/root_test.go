package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collector/internal/transport"
)

func TestConfigCmd_PrintsDefaultsMasked(t *testing.T) {
	t.Setenv("CH_PASSWORD", "s3cret")
	var out bytes.Buffer
	root := RootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", filepath.Join(t.TempDir(), "missing.yml")})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "size_threshold: 1500")
	assert.Contains(t, out.String(), "table: shop.events_raw")
	assert.Contains(t, out.String(), "******")
	assert.NotContains(t, out.String(), "s3cret")
}

func TestProbeCmd(t *testing.T) {
	srv, err := transport.StartServer(0)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(srv.Stop)
	addr := fmt.Sprintf("127.0.0.1:%d", srv.Port())

	probe := func() error {
		root := RootCmd()
		root.SetOut(&bytes.Buffer{})
		root.SetArgs([]string{"probe", "--addr", addr})
		return root.Execute()
	}

	assert.Error(t, probe())
	srv.SetServing(true)
	assert.NoError(t, probe())
}
