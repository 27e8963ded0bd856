package rpc

import (
	"context"
	"encoding/json"
)

type tokenIDParams struct {
	TokenID *uint64 `json:"tokenId"`
}

type auctionStartParams struct {
	TokenID    *uint64 `json:"tokenId"`
	StartPrice string  `json:"startPrice"`
	EndTime    int64   `json:"endTime"`
}

type auctionPriceResult struct {
	TokenID uint64 `json:"tokenId"`
	Price   string `json:"price"`
}

func parseTokenID(params []json.RawMessage) (uint64, error) {
	var p tokenIDParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return 0, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return 0, rpcErr
	}
	return id, nil
}

func (s *Server) handleAuctionList(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	a, err := s.node.AuctionList(caller, id)
	if err != nil {
		return nil, err
	}
	return auctionResult(a), nil
}

func (s *Server) handleAuctionStart(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p auctionStartParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	startPrice, rpcErr := parseAmountParam("startPrice", p.StartPrice)
	if rpcErr != nil {
		return nil, rpcErr
	}
	a, err := s.node.AuctionStart(caller, id, startPrice, p.EndTime)
	if err != nil {
		return nil, err
	}
	return auctionResult(a), nil
}

func (s *Server) handleAuctionBid(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	esc, err := s.node.AuctionBid(caller, id)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleAuctionCancel(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	a, err := s.node.AuctionCancel(caller, id)
	if err != nil {
		return nil, err
	}
	return auctionResult(a), nil
}

func (s *Server) handleAuctionGet(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	a, err := s.node.AuctionGet(id)
	if err != nil {
		return nil, err
	}
	return auctionResult(a), nil
}

func (s *Server) handleAuctionPrice(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	price, err := s.node.AuctionPrice(id)
	if err != nil {
		return nil, err
	}
	return auctionPriceResult{TokenID: id, Price: amountString(price)}, nil
}
