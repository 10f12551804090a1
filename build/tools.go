// +build tools

// This package is a pseudo-user of build-time dependencies for gridwire,
// mostly for various code-generation tools.
package main

import (
	_ "github.com/alvaroloes/enumer"
)
