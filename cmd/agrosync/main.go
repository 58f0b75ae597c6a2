// Command agrosync is the offline-capable sync client for
// agricultural-commodity trade records.
package main

import "github.com/kalnberzina/agrosync/internal/cli"

func main() {
	cli.Execute()
}
