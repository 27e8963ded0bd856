package rpc

import (
	"context"
	"encoding/json"
)

type escrowMetadataParams struct {
	TokenID *uint64 `json:"tokenId"`
	URI     string  `json:"uri"`
}

type escrowHashlockParams struct {
	TokenID   *uint64 `json:"tokenId"`
	Hashlock  string  `json:"hashlock"`
	Threshold uint32  `json:"threshold"`
}

type escrowShareParams struct {
	TokenID *uint64 `json:"tokenId"`
	Share   string  `json:"share"`
}

type escrowWithdrawParams struct {
	TokenID  *uint64 `json:"tokenId"`
	Preimage string  `json:"preimage"`
}

func (s *Server) handleEscrowGet(_ context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleEscrowSetTokenMetadata(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowMetadataParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowSetTokenMetadata(caller, id, p.URI)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleEscrowSetHashlock(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowHashlockParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	hashlock, rpcErr := parseBytes32Param("hashlock", p.Hashlock)
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowSetHashlock(caller, id, hashlock, p.Threshold)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleEscrowSubmitShare(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowShareParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	share, err := decodeHex(p.Share)
	if err != nil {
		return nil, invalidParams("invalid share: must be hex encoded")
	}
	esc, err := s.node.EscrowSubmitShare(caller, id, share)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleEscrowWithdraw(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	var p escrowWithdrawParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	id, rpcErr := requireTokenID(p.TokenID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	preimage, rpcErr := parseBytes32Param("preimage", p.Preimage)
	if rpcErr != nil {
		return nil, rpcErr
	}
	esc, err := s.node.EscrowWithdraw(caller, id, preimage)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleEscrowRefund(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	esc, err := s.node.EscrowRefund(caller, id)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}

func (s *Server) handleEscrowCancel(_ context.Context, caller [20]byte, params []json.RawMessage) (interface{}, error) {
	id, err := parseTokenID(params)
	if err != nil {
		return nil, err
	}
	esc, err := s.node.EscrowCancel(caller, id)
	if err != nil {
		return nil, err
	}
	return escrowResult(esc), nil
}
