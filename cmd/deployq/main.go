// Command deployq runs plans of shell commands through keyed job queues:
// commands sharing a queue run one at a time in plan order, commands on
// different queues run in parallel.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
