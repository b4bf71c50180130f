// Program example runs the example servant as a command-line program.
//
// Usage:
//
//	example <method> [k1^v1] ... [--ctx1^v1] ...
package main

import (
	"github.com/creachadair/xgate/cli"
	"github.com/creachadair/xgate/servant/example"
)

func main() { cli.Main(example.New()) }
