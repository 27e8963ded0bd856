package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	envRPCURL = "SLOTMARKET_RPC_URL"
	envToken  = "SLOTMARKET_TOKEN"
)

var (
	rpcEndpoint = defaultRPCEndpoint()
	rpcToken    = strings.TrimSpace(os.Getenv(envToken))
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "auction":
		return runGroup(auctionCommands, "auction", args[1:], stdout, stderr)
	case "escrow":
		return runGroup(escrowCommands, "escrow", args[1:], stdout, stderr)
	case "inventory":
		return runGroup(inventoryCommands, "inventory", args[1:], stdout, stderr)
	case "currency":
		return runGroup(currencyCommands, "currency", args[1:], stdout, stderr)
	case "events":
		return runEvents(args[1:], stdout, stderr)
	case "token":
		return runToken(args[1:], stdout, stderr)
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if endpoint := strings.TrimSpace(os.Getenv(envRPCURL)); endpoint != "" {
		return endpoint
	}
	return "http://localhost:8547/rpc"
}

// applyGlobalFlags consumes --rpc and --token wherever they appear before the
// command name and returns the remaining arguments.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		name, value, hasValue := strings.Cut(arg, "=")
		switch name {
		case "--rpc", "--token":
		default:
			out = append(out, args[i:]...)
			return out, nil
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		if name == "--rpc" {
			rpcEndpoint = strings.TrimSpace(value)
		} else {
			rpcToken = strings.TrimSpace(value)
		}
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  slotmarket-cli [--rpc URL] [--token JWT] <command> <subcommand> [flags]

Commands:
  auction    list, start, bid, cancel, get, price
  escrow     get, set-metadata, set-hashlock, submit-share, withdraw, refund, cancel
  inventory  mint, approve, get, set-group-uri, group-uri, pause, unpause
  currency   balance, allowance, approve, transfer, supply
  events     Query the event index
  token      Sign a caller JWT
  keygen     Create a keystore and print its address

Environment:
  SLOTMARKET_RPC_URL  RPC endpoint (default http://localhost:8547/rpc)
  SLOTMARKET_TOKEN    Caller JWT used for authenticated calls
`)
}
