package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hupe1980/concierge/model"
)

// MockModel is a testify mock of model.Model. Program it with
//
//	m.On("Generate", mock.Anything, mock.Anything).Return(&model.Response{...}, nil)
//
// The returned response is delivered as the final response; an error is
// delivered on the error channel.
type MockModel struct {
	mock.Mock
	Name string
}

var _ model.Model = (*MockModel)(nil)

// Generate implements model.Model.
func (m *MockModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	args := m.Called(ctx, req)
	out := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	if err := args.Error(1); err != nil {
		errCh <- err
	} else if resp, ok := args.Get(0).(*model.Response); ok && resp != nil {
		out <- *resp
	}
	close(out)
	close(errCh)
	return out, errCh
}

// Info implements model.Model.
func (m *MockModel) Info() model.Info {
	name := m.Name
	if name == "" {
		name = "mock"
	}
	return model.Info{Name: name, Provider: "mock", SupportsTools: true}
}
