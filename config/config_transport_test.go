package config

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportConnect(t *testing.T) {
	tmpl := `
identity:
  client_tag: node1
  client_address: "10.0.0.23:8400"
peers:
- name: foo
  type: resilient
  connect:
%s
`

	mconf := func(s string) string { return fmt.Sprintf(tmpl, s) }

	type test struct {
		Name        string
		ExpectError bool
		Connect     string
	}

	testTable := []test{
		{
			Name:        "tcp_with_address_and_port",
			ExpectError: false,
			Connect: `
    type: tcp
    address: 10.0.0.23:42
`,
		},
		{
			Name:        "tls_with_host_and_port",
			ExpectError: false,
			Connect: `
    type: tls
    address: "server1.foo.bar:8888"
    ca:   /etc/gridwire/ca.crt
    cert: /etc/gridwire/backupserver.fullchain
    key:  /etc/gridwire/backupserver.key
    server_cn: "server1"
`,
		},
		{
			Name:        "unknown_transport",
			ExpectError: true,
			Connect: `
    type: smoke_signals
    address: "10.0.0.23:42"
`,
		},
	}

	for _, tc := range testTable {
		t.Run(tc.Name, func(t *testing.T) {
			conf, err := testConfig(t, mconf(tc.Connect))
			if tc.ExpectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, conf)
		})
	}
}

func TestConnectDialTimeoutDefault(t *testing.T) {
	conf := testValidConfig(t, `
identity:
  client_tag: node1
  client_address: "10.0.0.23:8400"
peers:
- name: foo
  type: resilient
  connect:
    type: tcp
    address: 10.0.0.23:42
`)
	c := conf.Peers[0].Ret.(*ResilientPeer).Connect.Ret.(*TCPConnect)
	assert.Equal(t, 10*time.Second, c.DialTimeout)
}

func TestServeTLSClientCNs(t *testing.T) {
	conf := testValidConfig(t, `
identity:
  client_tag: node1
  client_address: "10.0.0.23:8400"
listen:
  serve:
    type: tls
    listen: ":8400"
    ca:   /etc/gridwire/ca.crt
    cert: /etc/gridwire/node1.crt
    key:  /etc/gridwire/node1.key
    client_cns:
      - "node2"
      - "node3"
`)
	s := conf.Listen.Serve.Ret.(*TLSServe)
	assert.Equal(t, []string{"node2", "node3"}, s.ClientCNs)
	assert.Equal(t, 10*time.Second, s.HandshakeTimeout)
}
