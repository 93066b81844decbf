package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/concierge/internal/util"
)

// Func is the signature wrapped by FunctionCapability.
type Func func(ctx context.Context, args map[string]any) (string, error)

// FunctionCapability exposes a plain Go function as a Capability.
//
// Arguments are validated against the declared schema before fn runs.
// Failures are normalized to *Error:
//
//	*Error returned by fn  -> forwarded unchanged
//	validation failure     -> *Error{Code: VALIDATION_ERROR}
//	other error            -> *Error{Code: EXECUTION_ERROR}
//
// A FunctionCapability holds no mutable state after construction.
type FunctionCapability struct {
	name        string
	serviceName string
	description string
	parameters  map[string]any
	fn          Func
}

// NewFunction constructs a FunctionCapability from an explicit schema.
func NewFunction(name, serviceName, description string, parameters map[string]any, fn Func) *FunctionCapability {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FunctionCapability{
		name:        name,
		serviceName: serviceName,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFunctionFromStruct derives the schema from an argument struct.
//
//	type WeatherArgs struct {
//	  Location string `json:"location" description:"City name"`
//	}
//
//	c := NewFunctionFromStruct("get_weather", "weather service", "Current weather", WeatherArgs{}, fn)
func NewFunctionFromStruct(name, serviceName, description string, args any, fn Func) *FunctionCapability {
	return NewFunction(name, serviceName, description, util.CreateSchema(args), fn)
}

func (c *FunctionCapability) Name() string { return c.name }

func (c *FunctionCapability) ServiceName() string { return c.serviceName }

func (c *FunctionCapability) Description() string { return c.description }

func (c *FunctionCapability) Parameters() map[string]any { return c.parameters }

// Invoke validates args and calls the wrapped function.
func (c *FunctionCapability) Invoke(ctx context.Context, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	if err := util.ValidateParameters(args, c.parameters); err != nil {
		return "", &Error{
			Capability: c.name,
			Message:    fmt.Sprintf("parameter validation failed: %v", err),
			Code:       CodeValidation,
			Err:        err,
		}
	}

	out, err := c.fn(ctx, args)
	if err == nil {
		return out, nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return "", err
	}
	return "", &Error{Capability: c.name, Message: err.Error(), Code: CodeExecution, Err: err}
}
