package openai

import (
	"context"
	"errors"

	"github.com/poiesic/verbatim/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var errResourceNotFound = llms.NewError(llms.ErrCodeResourceNotFound, "", "")

// classify maps a provider error onto core.Permanent or core.Transient.
// Authentication, invalid request, unknown model, exhausted quota, content
// filter and token limit failures are permanent; anything else may succeed on retry.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	mapped := openai.MapError(err)
	switch {
	case llms.IsAuthenticationError(mapped),
		llms.IsInvalidRequestError(mapped),
		llms.IsContentFilterError(mapped),
		llms.IsTokenLimitError(mapped),
		llms.IsQuotaExceededError(mapped),
		llms.IsNotImplementedError(mapped),
		errors.Is(mapped, errResourceNotFound):
		return core.Permanent(mapped)
	}
	return core.Transient(mapped)
}
