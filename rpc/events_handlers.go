package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"slotmarket/indexer"
)

type listEventsParams struct {
	TokenID       *uint64 `json:"tokenId,omitempty"`
	Type          string  `json:"type,omitempty"`
	AfterSequence uint64  `json:"afterSequence,omitempty"`
	Limit         int     `json:"limit,omitempty"`
}

func (s *Server) handleListEvents(ctx context.Context, _ [20]byte, params []json.RawMessage) (interface{}, error) {
	if s.history == nil {
		return nil, errIndexUnavailable
	}
	var p listEventsParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.Limit < 0 || p.Limit > indexer.MaxLimit {
		return nil, invalidParams(fmt.Sprintf("limit must be between 0 and %d", indexer.MaxLimit))
	}
	records, err := s.history.List(ctx, indexer.Query{
		TokenID:       p.TokenID,
		Type:          p.Type,
		AfterSequence: p.AfterSequence,
		Limit:         p.Limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]EventResult, 0, len(records))
	for _, record := range records {
		out = append(out, eventResult(record))
	}
	return out, nil
}
