// Command hostreq issues one request through a host executor and prints
// the response.
//
//	hostreq -X POST -d name=gopher https://api.example.com/users
//	hostreq --config host.toml -o report.csv /reports/latest
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
