// Command trustchain-node is the consensus node process: "run" starts a
// node, "keygen" produces a fresh Ed25519 identity, "inspect-chain" prints
// a node's durable chain.
//
// The subcommand dispatch on os.Args[1] plus flag.NewFlagSet per
// subcommand, and the run(args, stdout, stderr) int -> os.Exit(run(...))
// shape, are grounded on the teacher's cmd/rubin-node/main.go.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: trustchain-node <run|keygen|inspect-chain> [flags]")
		os.Exit(2)
	}
	sub, rest := os.Args[1], os.Args[2:]
	switch sub {
	case "run":
		os.Exit(runCmd(rest, os.Stdout, os.Stderr))
	case "keygen":
		os.Exit(keygenCmd(rest, os.Stdout, os.Stderr))
	case "inspect-chain":
		os.Exit(inspectChainCmd(rest, os.Stdout, os.Stderr))
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", sub)
		os.Exit(2)
	}
}
