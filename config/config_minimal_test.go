package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigEmptyFails(t *testing.T) {
	conf, err := testConfig(t, "\n")
	assert.Nil(t, conf)
	assert.Error(t, err)
}

func TestPeersOnlyWorks(t *testing.T) {
	testValidConfig(t, `
identity:
  client_tag: web-writer-01
  client_address: "10.0.0.23:8400"
peers:
- name: data_writer_1
  type: resilient
  connect:
    type: tcp
    address: "10.0.0.1:8100"
- name: space_accounting
  type: mux
  connect:
    type: tcp
    address: "10.0.0.1:8300"
`)
}

func TestListenOnlyWorks(t *testing.T) {
	testValidConfig(t, `
identity:
  client_tag: data-writer-01
  client_address: "10.0.0.1:8100"
listen:
  serve:
    type: tcp
    listen: ":8100"
`)
}
