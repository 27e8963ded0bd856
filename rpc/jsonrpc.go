package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "slotmarket/core/errors"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError       = -32700
	codeInvalidRequest   = -32600
	codeMethodNotFound   = -32601
	codeInvalidParams    = -32602
	codeServerError      = -32000
	codeUnauthenticated  = -32001
	codeUnauthorized     = -32031
	codeInvalidState     = -32032
	codeTimingViolation  = -32033
	codeProofFailure     = -32034
	codeTransferFailure  = -32035
	codeNotFound         = -32036
	codeIndexUnavailable = -32037
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func invalidParams(message string) *RPCError {
	return &RPCError{Code: codeInvalidParams, Message: message}
}

// errorFor maps an engine failure to its JSON-RPC error. Failures outside the
// market taxonomy are reported without detail.
func errorFor(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	code := codeServerError
	switch coreerrors.Class(err) {
	case "unauthorized":
		code = codeUnauthorized
	case "invalid_state":
		code = codeInvalidState
	case "timing_violation":
		code = codeTimingViolation
	case "proof_failure":
		code = codeProofFailure
	case "transfer_failure":
		code = codeTransferFailure
	case "not_found":
		code = codeNotFound
	case "invalid_argument":
		code = codeInvalidParams
	default:
		return &RPCError{Code: codeServerError, Message: "internal error"}
	}
	return &RPCError{Code: code, Message: err.Error()}
}

func writeError(w http.ResponseWriter, status int, id interface{}, rpcErr *RPCError) {
	if status <= 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}
