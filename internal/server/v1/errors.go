package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/nulzo/query-router/internal/cachekey"
	"github.com/nulzo/query-router/internal/gateway"
	"github.com/nulzo/query-router/internal/httpclient"
	"github.com/nulzo/query-router/internal/llm"
	"github.com/nulzo/query-router/internal/prompt"
	"github.com/nulzo/query-router/pkg/api"
)

// problemFor maps routing errors onto RFC 9457 problems so callers can tell
// configuration failures from upstream ones.
func problemFor(err error) *api.Problem {
	var problem *api.Problem
	if errors.As(err, &problem) {
		return problem
	}

	kind := api.WithExtension("kind", gateway.ErrorKind(err))

	switch {
	case errors.Is(err, llm.ErrProviderNotFound):
		return api.NotFoundError(err.Error(), kind)
	case errors.Is(err, gateway.ErrProviderNotAvailable):
		return api.UnavailableError(err.Error(), kind)
	case errors.Is(err, prompt.ErrPromptBuild), errors.Is(err, cachekey.ErrInvalidExtras):
		return api.BadRequestError(err.Error(), kind)
	case errors.Is(err, gateway.ErrProviderCall) && errors.Is(err, context.DeadlineExceeded):
		return api.NewError(http.StatusGatewayTimeout, "Gateway Timeout", "The provider did not answer in time.",
			kind, api.WithLog(err))
	case errors.Is(err, gateway.ErrProviderCall):
		p := api.ProviderError(err.Error(), err)
		p.Extensions["kind"] = gateway.ErrorKind(err)
		if status := httpclient.StatusCode(err); status != 0 {
			p.Extensions["upstream_status"] = status
		}
		return p
	default:
		return api.InternalError("Failed to process query", err)
	}
}
