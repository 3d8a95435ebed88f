package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"multicallgofer/internal/jsonrpc"
)

const maxConcurrentBatchRequests = 16

// Handler handles HTTP JSON-RPC requests
type Handler struct {
	service        *Service
	maxBodySize    int64
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(service *Service, maxBodySize int64, requestTimeout time.Duration, logger zerolog.Logger) *Handler {
	return &Handler{
		service:        service,
		maxBodySize:    maxBodySize,
		requestTimeout: requestTimeout,
		logger:         logger.With().Str("component", "handler").Logger(),
	}
}

// ServeHTTP handles HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, readErr := h.readBody(r)
	if readErr != nil {
		h.writeJSONRPCError(w, readErr)
		return
	}

	requests, isBatch, err := jsonrpc.ParseBatchRequest(body)
	if err != nil {
		if err == jsonrpc.ErrInvalidRequest {
			h.writeJSONRPCError(w, jsonrpc.ErrInvalidRequest)
			return
		}
		h.writeJSONRPCError(w, jsonrpc.ErrParse)
		return
	}

	ctx := r.Context()
	if h.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.requestTimeout)
		defer cancel()
	}

	responses := h.executeAll(ctx, requests)

	if !isBatch {
		if requests[0].IsNotification() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.writeResponse(w, responses[0])
		return
	}

	replies := make([]*jsonrpc.Response, 0, len(responses))
	for i, resp := range responses {
		if requests[i] == nil || !requests[i].IsNotification() {
			replies = append(replies, resp)
		}
	}
	if len(replies) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeBatchResponse(w, replies)
}

// executeAll runs requests concurrently, keeping responses in request order
func (h *Handler) executeAll(ctx context.Context, requests []*jsonrpc.Request) []*jsonrpc.Response {
	responses := make([]*jsonrpc.Response, len(requests))

	var g errgroup.Group
	g.SetLimit(maxConcurrentBatchRequests)
	for i, req := range requests {
		g.Go(func() error {
			if req == nil {
				responses[i] = jsonrpc.NewErrorResponse(jsonrpc.ID{}, jsonrpc.ErrInvalidRequest)
				return nil
			}
			if err := req.Validate(); err != nil {
				responses[i] = jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
				return nil
			}
			responses[i] = h.service.Execute(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return responses
}

func (h *Handler) readBody(r *http.Request) ([]byte, *jsonrpc.Error) {
	if h.maxBodySize <= 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeParseError, "failed to read request body")
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, "request body too large")
	}
	return body, nil
}

// writeResponse writes a JSON-RPC response
func (h *Handler) writeResponse(w http.ResponseWriter, resp *jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	data, err := resp.Bytes()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Write(data)
}

// writeBatchResponse writes a batch of JSON-RPC responses
func (h *Handler) writeBatchResponse(w http.ResponseWriter, responses []*jsonrpc.Response) {
	w.Header().Set("Content-Type", "application/json")
	data, err := jsonrpc.MarshalBatchResponse(responses)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal batch response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Write(data)
}

// writeJSONRPCError writes a JSON-RPC error response with a null id
func (h *Handler) writeJSONRPCError(w http.ResponseWriter, rpcErr *jsonrpc.Error) {
	h.writeResponse(w, jsonrpc.NewErrorResponse(jsonrpc.ID{}, rpcErr))
}

// writeError writes a plain HTTP error
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
