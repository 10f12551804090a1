package muxclient

import (
	"fmt"
	"os"
)

var debugEnabled bool = false

func init() {
	if os.Getenv("GRIDWIRE_RPC_MUX_DEBUG") != "" {
		debugEnabled = true
	}
}

//nolint[:deadcode,unused]
func debug(format string, args ...interface{}) {
	if debugEnabled {
		fmt.Fprintf(os.Stderr, "rpc/muxclient: %s\n", fmt.Sprintf(format, args...))
	}
}
