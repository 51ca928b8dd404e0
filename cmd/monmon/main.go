// monmon is a rule-driven monitor for autonomous agents.
// Watches what an agent logs, terminates on stop rules, and pauses on
// permission rules until an operator decides.
package main

import "github.com/ppiankov/monmon/internal/cli"

func main() {
	cli.Execute()
}
