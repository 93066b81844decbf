package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/concierge/core"
)

func sumCapability() *FunctionCapability {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
	return NewFunction("sum", "calculator", "Add numbers", params, func(_ context.Context, args map[string]any) (string, error) {
		return "5", nil
	})
}

// -------------------- FunctionCapability --------------------

func TestFunctionCapability_Success(t *testing.T) {
	out, err := sumCapability().Invoke(context.Background(), map[string]any{"a": 2.0, "b": 3.0})
	assert.NoError(t, err)
	assert.Equal(t, "5", out)
}

func TestFunctionCapability_ValidationError(t *testing.T) {
	_, err := sumCapability().Invoke(context.Background(), map[string]any{"a": 1.0})
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeValidation, ce.Code)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, "b", ve.Field)
}

func TestFunctionCapability_ExecutionError(t *testing.T) {
	c := NewFunction("fail", "failing service", "Fails", nil, func(context.Context, map[string]any) (string, error) {
		return "", errors.New("boom")
	})
	_, err := c.Invoke(context.Background(), nil)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeExecution, ce.Code)
	assert.False(t, IsRetryable(err))
}

func TestFunctionCapability_ForwardsTypedError(t *testing.T) {
	c := NewFunction("flaky", "flaky service", "", nil, func(context.Context, map[string]any) (string, error) {
		return "", Unavailable("flaky", errors.New("503"))
	})
	_, err := c.Invoke(context.Background(), nil)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeUnavailable, ce.Code)
	assert.True(t, IsRetryable(err))
}

func TestFunctionCapability_FromStruct(t *testing.T) {
	type args struct {
		City string `json:"city" description:"City"`
	}
	c := NewFunctionFromStruct("city", "city service", "", args{}, func(_ context.Context, a map[string]any) (string, error) {
		return a["city"].(string), nil
	})
	def := Definition(c)
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "city", def.Function.Name)
	assert.Contains(t, def.Function.Parameters["properties"], "city")
}

func TestIsRetryable_ContextErrors(t *testing.T) {
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(&Error{Retryable: true, Err: context.DeadlineExceeded}))
}

// -------------------- Registry --------------------

func TestRegistry(t *testing.T) {
	reg, err := NewRegistry(sumCapability())
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())

	c, ok := reg.Get("sum")
	assert.True(t, ok)
	assert.Equal(t, "calculator", c.ServiceName())
	assert.Equal(t, []string{"sum"}, reg.Names())
	assert.Len(t, reg.Definitions(), 1)

	err = reg.Register(sumCapability())
	assert.ErrorIs(t, err, core.ErrConfiguration)

	err = reg.Register(NewFunction("anon", "", "", nil, nil))
	assert.ErrorIs(t, err, core.ErrConfiguration)

	err = reg.Register(nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

// -------------------- Retry --------------------

func flaky(failures int32, retryable bool) (*FunctionCapability, *atomic.Int32) {
	var calls atomic.Int32
	c := NewFunction("flaky", "flaky service", "", nil, func(context.Context, map[string]any) (string, error) {
		n := calls.Add(1)
		if n <= failures {
			if retryable {
				return "", Unavailable("flaky", errors.New("try again"))
			}
			return "", NewError("flaky", "broken", CodeExecution)
		}
		return "ok", nil
	})
	return c, &calls
}

func fastRetry(o *RetryOptions) {
	o.InitialInterval = time.Millisecond
	o.MaxInterval = 2 * time.Millisecond
}

func TestWithRetry_RecoversTransientFailure(t *testing.T) {
	c, calls := flaky(2, true)
	out, err := WithRetry(c, fastRetry).Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWithRetry_IsBounded(t *testing.T) {
	c, calls := flaky(10, true)
	_, err := WithRetry(c, fastRetry).Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	var ce *Error
	assert.ErrorAs(t, err, &ce)
}

func TestWithRetry_PermanentErrorsAreNotRetried(t *testing.T) {
	c, calls := flaky(10, false)
	wrapped := WithRetry(c, fastRetry)
	_, err := wrapped.Invoke(context.Background(), nil)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeExecution, ce.Code)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "flaky service", wrapped.ServiceName())
}
