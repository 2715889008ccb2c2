package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/authguard"
	"github.com/storefront/authguard/internal/logging"
	"github.com/storefront/authguard/ratelimit"
)

// Recover converts a panic in a later stage into ErrPanic.
func Recover[Req, Resp any](logger *slog.Logger) Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (resp Resp, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(ctx, "panic recovered",
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()),
				)
				var zero Resp
				resp, err = zero, fmt.Errorf("%w: %v", ErrPanic, rec)
			}
		}()
		return next(ctx, req)
	}
}

// Logging logs each request outcome under name. Successes log at Debug.
func Logging[Req, Resp any](logger *slog.Logger, name string) Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		elapsed := time.Since(start)

		if err != nil {
			logging.LogError(ctx, logger.With("handler", name, "duration", elapsed), "handler failed", err)
			return resp, err
		}
		logger.DebugContext(ctx, "handler completed", "handler", name, "duration", elapsed)
		return resp, nil
	}
}

// Tracing runs the rest of the chain inside a span named name.
func Tracing[Req, Resp any](tracer trace.Tracer, name string) Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error) {
		ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attribute.String("pipeline.handler", name)))
		defer span.End()

		resp, err := next(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return resp, err
	}
}

// Validation checks the request's validate struct tags. Requests that are
// not structs pass through.
func Validation[Req, Resp any](v *validator.Validate) Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error) {
		err := v.StructCtx(ctx, req)
		var invalid *validator.InvalidValidationError
		if err != nil && !errors.As(err, &invalid) {
			var zero Resp
			return zero, oops.In("pipeline").
				Code("REQUEST_INVALID").
				With("fields", failedFields(err)).
				Wrap(fmt.Errorf("%w: %v", ErrValidation, err))
		}
		return next(ctx, req)
	}
}

func failedFields(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Namespace())
	}
	return fields
}

// RequirePrincipal rejects requests whose context carries no principal.
func RequirePrincipal[Req, Resp any]() Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error) {
		if _, ok := authguard.PrincipalFromContext(ctx); !ok {
			var zero Resp
			return zero, authguard.ErrUnauthenticated
		}
		return next(ctx, req)
	}
}

// RequireRoles rejects requests whose principal holds none of roles.
func RequireRoles[Req, Resp any](roles ...string) Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error) {
		var zero Resp
		p, ok := authguard.PrincipalFromContext(ctx)
		if !ok {
			return zero, authguard.ErrUnauthenticated
		}
		if !p.HasAnyRole(roles...) {
			return zero, authguard.ErrForbidden
		}
		return next(ctx, req)
	}
}

// KeyFunc derives the rate-limit identifier of a request. An empty key skips
// limiting for that request.
type KeyFunc[Req any] func(ctx context.Context, req Req) string

// PrincipalKey keys requests by the authenticated user, falling back to the
// client address.
func PrincipalKey[Req any](ctx context.Context, _ Req) string {
	if p, ok := authguard.PrincipalFromContext(ctx); ok {
		return "user:" + p.UserID
	}
	if ip := authguard.ClientIPFromContext(ctx); ip != "" {
		return "ip:" + ip
	}
	return ""
}

// RateLimit denies requests whose key is out of attempts under rule. The
// attempt is counted when countIf returns true for the outcome, including the
// ErrRateLimited of a denied request; a nil countIf counts every request.
func RateLimit[Req, Resp any](l *ratelimit.Limiter, rule ratelimit.Rule, key KeyFunc[Req], countIf func(error) bool) Stage[Req, Resp] {
	return func(ctx context.Context, req Req, next Handler[Req, Resp]) (Resp, error) {
		id := key(ctx, req)
		if l == nil || id == "" {
			return next(ctx, req)
		}
		if !l.Allow(ctx, id, rule) {
			var zero Resp
			denied := fmt.Errorf("%w: %s", ErrRateLimited, rule.Name)
			if countIf == nil || countIf(denied) {
				if _, ierr := l.IncrementRule(ctx, id, rule); ierr != nil {
					return zero, errors.Join(denied, ierr)
				}
			}
			return zero, denied
		}

		resp, err := next(ctx, req)
		if countIf == nil || countIf(err) {
			if _, ierr := l.IncrementRule(ctx, id, rule); ierr != nil {
				return resp, errors.Join(err, ierr)
			}
		}
		return resp, err
	}
}

// FailuresOnly is a countIf for RateLimit that counts failed requests.
func FailuresOnly(err error) bool { return err != nil }
