package rpc

import (
	"context"
	"encoding/json"

	"slotmarket/crypto"
)

type addressParams struct {
	Address string `json:"address"`
}

type allowanceParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
}

type currencyApproveParams struct {
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type currencyTransferParams struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (s *Server) handleCurrencyBalance(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p addressParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	addr, rpcErr := parseAddressParam("address", p.Address)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.node.CurrencyBalance(addr)
	if err != nil {
		return nil, err
	}
	return BalanceResult{Address: crypto.FormatAddress(addr), Balance: amountString(balance)}, nil
}

func (s *Server) handleCurrencyAllowance(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p allowanceParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddressParam("owner", p.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := parseAddressParam("spender", p.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	allowance, err := s.node.CurrencyAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return AllowanceResult{
		Owner:     crypto.FormatAddress(owner),
		Spender:   crypto.FormatAddress(spender),
		Allowance: amountString(allowance),
	}, nil
}

func (s *Server) handleCurrencyApprove(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p currencyApproveParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := parseAddressParam("spender", p.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam("amount", p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	allowance, err := s.node.CurrencyApprove(caller, spender, amount)
	if err != nil {
		return nil, err
	}
	return AllowanceResult{
		Owner:     crypto.FormatAddress(caller),
		Spender:   crypto.FormatAddress(spender),
		Allowance: amountString(allowance),
	}, nil
}

func (s *Server) handleCurrencyTransfer(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p currencyTransferParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	to, rpcErr := parseAddressParam("to", p.To)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmountParam("amount", p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.node.CurrencyTransfer(caller, to, amount)
	if err != nil {
		return nil, err
	}
	return BalanceResult{Address: crypto.FormatAddress(caller), Balance: amountString(balance)}, nil
}

func (s *Server) handleCurrencySupply(_ context.Context, _ [20]byte, _ []json.RawMessage) (interface{}, error) {
	supply, err := s.node.CurrencySupply()
	if err != nil {
		return nil, err
	}
	return supplyResult(supply), nil
}
