// bindery is a personal e-book library server with a device-sync extension
// for e-reader hardware.
package main

import (
	"fmt"
	"os"

	"github.com/binderyhq/bindery/cmd"
)

var (
	version string
	commit  string
)

func main() {
	cmd.Version = version
	cmd.Commit = commit
	if err := cmd.GetCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
