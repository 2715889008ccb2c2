package pipeline

import (
	"context"
	"errors"
)

var (
	// ErrValidation is returned by the Validation stage when the request
	// fails its struct tags.
	ErrValidation = errors.New("request validation failed")
	// ErrRateLimited is returned by the RateLimit stage when the key is out
	// of attempts or blocked.
	ErrRateLimited = errors.New("rate limited")
	// ErrPanic is returned by the Recover stage when a later stage panics.
	ErrPanic = errors.New("handler panicked")
)

// Handler processes one request.
type Handler[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Stage wraps a Handler. It may short-circuit by returning without calling
// next.
type Stage[Req, Resp any] func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error)

// Chain returns core wrapped by stages. stages[0] runs first.
func Chain[Req, Resp any](core Handler[Req, Resp], stages ...Stage[Req, Resp]) Handler[Req, Resp] {
	h := core
	for i := len(stages) - 1; i >= 0; i-- {
		h = bind(stages[i], h)
	}
	return h
}

func bind[Req, Resp any](s Stage[Req, Resp], next Handler[Req, Resp]) Handler[Req, Resp] {
	if s == nil {
		return next
	}
	return func(ctx context.Context, req Req) (Resp, error) {
		return s(ctx, req, next)
	}
}
