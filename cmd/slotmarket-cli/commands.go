package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strings"

	"slotmarket/crypto"
)

// paramsBuilder validates parsed flags and returns the call parameters.
type paramsBuilder func() (interface{}, error)

type command struct {
	method  string
	auth    bool
	summary string
	flags   func(fs *flag.FlagSet) paramsBuilder
}

func runGroup(commands map[string]command, group string, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, groupUsage(commands, group))
		return 1
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "Unknown %s subcommand: %s\n", group, args[0])
		fmt.Fprintln(stderr, groupUsage(commands, group))
		return 1
	}
	fs := flag.NewFlagSet(group+" "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	build := func() (interface{}, error) { return nil, nil }
	if cmd.flags != nil {
		build = cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	params, err := build()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return invoke(cmd.method, params, cmd.auth, stdout, stderr)
}

func groupUsage(commands map[string]command, group string) string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n  slotmarket-cli %s <subcommand> [flags]\n\nSubcommands:\n", group)
	for _, name := range names {
		fmt.Fprintf(&b, "  %-14s %s\n", name, commands[name].summary)
	}
	return strings.TrimRight(b.String(), "\n")
}

func tokenIDFlag(fs *flag.FlagSet) *int64 {
	return fs.Int64("id", -1, "slot token id")
}

func requireID(id int64) (uint64, error) {
	if id < 0 {
		return 0, fmt.Errorf("--id is required")
	}
	return uint64(id), nil
}

func tokenOnly(fs *flag.FlagSet) paramsBuilder {
	id := tokenIDFlag(fs)
	return func() (interface{}, error) {
		tokenID, err := requireID(*id)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"tokenId": tokenID}, nil
	}
}

func normalizeAddress(flagName, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("--%s is required", flagName)
	}
	addr, err := crypto.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid --%s: %v", flagName, err)
	}
	return crypto.FormatAddress(addr), nil
}

func normalizeAmount(flagName, value string) (string, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return "", fmt.Errorf("--%s is required", flagName)
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || amount.Sign() < 0 {
		return "", fmt.Errorf("--%s must be a non-negative integer", flagName)
	}
	return amount.String(), nil
}

func normalizeHex32(flagName, value string) (string, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	if len(trimmed) != 64 {
		return "", fmt.Errorf("--%s must be 32 bytes of hex", flagName)
	}
	for _, r := range trimmed {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return "", fmt.Errorf("--%s must be 32 bytes of hex", flagName)
		}
	}
	return "0x" + strings.ToLower(trimmed), nil
}

var auctionCommands = map[string]command{
	"list":   {method: "auction_list", auth: true, summary: "List a slot and hand it to the custodian", flags: tokenOnly},
	"bid":    {method: "auction_bid", auth: true, summary: "Accept the current price", flags: tokenOnly},
	"cancel": {method: "auction_cancel", auth: true, summary: "Withdraw a live listing", flags: tokenOnly},
	"get":    {method: "auction_get", summary: "Show an auction", flags: tokenOnly},
	"price":  {method: "auction_price", summary: "Show the current price", flags: tokenOnly},

	"start": {method: "auction_start", auth: true, summary: "Price a listing", flags: func(fs *flag.FlagSet) paramsBuilder {
		id := tokenIDFlag(fs)
		startPrice := fs.String("start-price", "", "starting price")
		endTime := fs.Int64("end-time", 0, "unix time at which the price reaches zero")
		return func() (interface{}, error) {
			tokenID, err := requireID(*id)
			if err != nil {
				return nil, err
			}
			price, err := normalizeAmount("start-price", *startPrice)
			if err != nil {
				return nil, err
			}
			if *endTime <= 0 {
				return nil, fmt.Errorf("--end-time is required")
			}
			return map[string]interface{}{"tokenId": tokenID, "startPrice": price, "endTime": *endTime}, nil
		}
	}},
}

var escrowCommands = map[string]command{
	"get":    {method: "escrow_get", summary: "Show an escrow", flags: tokenOnly},
	"refund": {method: "escrow_refund", auth: true, summary: "Reclaim funds after the timelock", flags: tokenOnly},
	"cancel": {method: "escrow_cancel", auth: true, summary: "Publisher abandons the sale", flags: tokenOnly},

	"withdraw": {method: "escrow_withdraw", auth: true, summary: "Release funds with the secret", flags: func(fs *flag.FlagSet) paramsBuilder {
		id := tokenIDFlag(fs)
		preimage := fs.String("preimage", "", "0x-prefixed 32-byte secret")
		return func() (interface{}, error) {
			tokenID, err := requireID(*id)
			if err != nil {
				return nil, err
			}
			secret, err := normalizeHex32("preimage", *preimage)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tokenId": tokenID, "preimage": secret}, nil
		}
	}},
	"set-metadata": {method: "escrow_setTokenMetadata", auth: true, summary: "Set the slot's creative URI", flags: func(fs *flag.FlagSet) paramsBuilder {
		id := tokenIDFlag(fs)
		uri := fs.String("uri", "", "metadata URI")
		return func() (interface{}, error) {
			tokenID, err := requireID(*id)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tokenId": tokenID, "uri": *uri}, nil
		}
	}},
	"set-hashlock": {method: "escrow_setHashlock", auth: true, summary: "Publish the delivery hashlock", flags: func(fs *flag.FlagSet) paramsBuilder {
		id := tokenIDFlag(fs)
		hashlock := fs.String("hashlock", "", "0x-prefixed keccak256 hashlock")
		threshold := fs.Uint("threshold", 0, "shares required before release")
		return func() (interface{}, error) {
			tokenID, err := requireID(*id)
			if err != nil {
				return nil, err
			}
			lock, err := normalizeHex32("hashlock", *hashlock)
			if err != nil {
				return nil, err
			}
			if *threshold == 0 {
				return nil, fmt.Errorf("--threshold must be at least 1")
			}
			return map[string]interface{}{"tokenId": tokenID, "hashlock": lock, "threshold": *threshold}, nil
		}
	}},
	"submit-share": {method: "escrow_submitShare", auth: true, summary: "Record a proof share", flags: func(fs *flag.FlagSet) paramsBuilder {
		id := tokenIDFlag(fs)
		share := fs.String("share", "", "0x-prefixed share bytes")
		return func() (interface{}, error) {
			tokenID, err := requireID(*id)
			if err != nil {
				return nil, err
			}
			if strings.TrimPrefix(strings.TrimSpace(*share), "0x") == "" {
				return nil, fmt.Errorf("--share is required")
			}
			return map[string]interface{}{"tokenId": tokenID, "share": strings.TrimSpace(*share)}, nil
		}
	}},
}

var inventoryCommands = map[string]command{
	"get":     {method: "inventory_get", summary: "Show a slot token", flags: tokenOnly},
	"pause":   {method: "inventory_pause", auth: true, summary: "Halt slot transfers (admin)"},
	"unpause": {method: "inventory_unpause", auth: true, summary: "Resume slot transfers (admin)"},

	"mint": {method: "inventory_mint", auth: true, summary: "Mint a slot to the caller", flags: func(fs *flag.FlagSet) paramsBuilder {
		validStart := fs.Int64("valid-start", 0, "unix start of the slot window")
		validEnd := fs.Int64("valid-end", 0, "unix end of the slot window")
		group := fs.Uint64("group", 0, "inventory group")
		uri := fs.String("uri", "", "metadata URI")
		location := fs.String("location", "", "placement description")
		return func() (interface{}, error) {
			if *validEnd <= *validStart {
				return nil, fmt.Errorf("--valid-end must follow --valid-start")
			}
			return map[string]interface{}{
				"validStart": *validStart,
				"validEnd":   *validEnd,
				"group":      *group,
				"uri":        *uri,
				"location":   *location,
			}, nil
		}
	}},
	"approve": {method: "inventory_approve", auth: true, summary: "Approve a spender for a slot", flags: func(fs *flag.FlagSet) paramsBuilder {
		id := tokenIDFlag(fs)
		spender := fs.String("spender", "", "bech32 spender address")
		return func() (interface{}, error) {
			tokenID, err := requireID(*id)
			if err != nil {
				return nil, err
			}
			addr, err := normalizeAddress("spender", *spender)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tokenId": tokenID, "spender": addr}, nil
		}
	}},
	"set-group-uri": {method: "inventory_setGroupURI", auth: true, summary: "Set the caller's group URI", flags: func(fs *flag.FlagSet) paramsBuilder {
		group := fs.Uint64("group", 0, "inventory group")
		uri := fs.String("uri", "", "group URI")
		return func() (interface{}, error) {
			return map[string]interface{}{"group": *group, "uri": *uri}, nil
		}
	}},
	"group-uri": {method: "inventory_groupURI", summary: "Show an owner's group URI", flags: func(fs *flag.FlagSet) paramsBuilder {
		owner := fs.String("owner", "", "bech32 owner address")
		group := fs.Uint64("group", 0, "inventory group")
		return func() (interface{}, error) {
			addr, err := normalizeAddress("owner", *owner)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"owner": addr, "group": *group}, nil
		}
	}},
}

var currencyCommands = map[string]command{
	"supply": {method: "currency_supply", summary: "Show minted supply and cap"},

	"balance": {method: "currency_balance", summary: "Show an account balance", flags: func(fs *flag.FlagSet) paramsBuilder {
		address := fs.String("address", "", "bech32 account address")
		return func() (interface{}, error) {
			addr, err := normalizeAddress("address", *address)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"address": addr}, nil
		}
	}},
	"allowance": {method: "currency_allowance", summary: "Show a spender allowance", flags: func(fs *flag.FlagSet) paramsBuilder {
		owner := fs.String("owner", "", "bech32 owner address")
		spender := fs.String("spender", "", "bech32 spender address")
		return func() (interface{}, error) {
			ownerAddr, err := normalizeAddress("owner", *owner)
			if err != nil {
				return nil, err
			}
			spenderAddr, err := normalizeAddress("spender", *spender)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"owner": ownerAddr, "spender": spenderAddr}, nil
		}
	}},
	"approve": {method: "currency_approve", auth: true, summary: "Set a spender allowance", flags: func(fs *flag.FlagSet) paramsBuilder {
		spender := fs.String("spender", "", "bech32 spender address")
		amount := fs.String("amount", "", "allowance amount")
		return func() (interface{}, error) {
			addr, err := normalizeAddress("spender", *spender)
			if err != nil {
				return nil, err
			}
			value, err := normalizeAmount("amount", *amount)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"spender": addr, "amount": value}, nil
		}
	}},
	"transfer": {method: "currency_transfer", auth: true, summary: "Send currency", flags: func(fs *flag.FlagSet) paramsBuilder {
		to := fs.String("to", "", "bech32 recipient address")
		amount := fs.String("amount", "", "amount to send")
		return func() (interface{}, error) {
			addr, err := normalizeAddress("to", *to)
			if err != nil {
				return nil, err
			}
			value, err := normalizeAmount("amount", *amount)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"to": addr, "amount": value}, nil
		}
	}},
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Int64("id", -1, "filter by slot token id")
	eventType := fs.String("type", "", "filter by event type")
	after := fs.Uint64("after", 0, "only events after this sequence")
	limit := fs.Int("limit", 0, "maximum events to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{}
	if *id >= 0 {
		params["tokenId"] = uint64(*id)
	}
	if t := strings.TrimSpace(*eventType); t != "" {
		params["type"] = t
	}
	if *after > 0 {
		params["afterSequence"] = *after
	}
	if *limit > 0 {
		params["limit"] = *limit
	}
	return invoke("market_listEvents", params, false, stdout, stderr)
}
