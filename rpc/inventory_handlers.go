package rpc

import (
	"context"
	"encoding/json"

	"slotmarket/crypto"
)

type inventoryMintParams struct {
	ValidStart int64  `json:"validStart"`
	ValidEnd   int64  `json:"validEnd"`
	Group      uint64 `json:"group"`
	URI        string `json:"uri"`
	Location   string `json:"location"`
}

type inventoryApproveParams struct {
	TokenID *uint64 `json:"tokenId"`
	Spender string  `json:"spender"`
}

type groupURIParams struct {
	Owner string `json:"owner"`
	Group uint64 `json:"group"`
	URI   string `json:"uri"`
}

func (s *Server) handleInventoryMint(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p inventoryMintParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := s.node.InventoryMint(caller, p.ValidStart, p.ValidEnd, p.Group, p.URI, p.Location)
	if err != nil {
		return nil, err
	}
	return tokenResult(token), nil
}

func (s *Server) handleInventoryApprove(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p inventoryApproveParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	spender, rpcErr := parseAddressParam("spender", p.Spender)
	if rpcErr != nil {
		return nil, rpcErr
	}
	token, err := s.node.InventoryApprove(caller, spender, id)
	if err != nil {
		return nil, err
	}
	return tokenResult(token), nil
}

func (s *Server) handleInventoryGet(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	token, err := s.node.InventoryToken(id)
	if err != nil {
		return nil, err
	}
	return tokenResult(token), nil
}

func (s *Server) handleInventorySetGroupURI(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p groupURIParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	uri, err := s.node.InventorySetGroupURI(caller, p.Group, p.URI)
	if err != nil {
		return nil, err
	}
	return GroupURIResult{Owner: crypto.FormatAddress(caller), Group: p.Group, URI: uri}, nil
}

func (s *Server) handleInventoryGroupURI(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	var p groupURIParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	owner, rpcErr := parseAddressParam("owner", p.Owner)
	if rpcErr != nil {
		return nil, rpcErr
	}
	uri, err := s.node.InventoryGroupURI(owner, p.Group)
	if err != nil {
		return nil, err
	}
	return GroupURIResult{Owner: crypto.FormatAddress(owner), Group: p.Group, URI: uri}, nil
}

func (s *Server) handleInventoryPause(_ context.Context, caller [20]byte, _ []json.RawMessage) (interface{}, error) {
	paused, err := s.node.InventorySetPaused(caller, true)
	if err != nil {
		return nil, err
	}
	return PausedResult{Paused: paused}, nil
}

func (s *Server) handleInventoryUnpause(_ context.Context, caller [20]byte, _ []json.RawMessage) (interface{}, error) {
	paused, err := s.node.InventorySetPaused(caller, false)
	if err != nil {
		return nil, err
	}
	return PausedResult{Paused: paused}, nil
}

func (s *Server) handleInventoryPaused(_ context.Context, _ [20]byte, _ []json.RawMessage) (interface{}, error) {
	paused, err := s.node.InventoryPaused()
	if err != nil {
		return nil, err
	}
	return PausedResult{Paused: paused}, nil
}
