package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/a3tai/mcp-pdf-formfill/internal/oracle"
)

// MockOracle is a mock implementation of oracle.Oracle.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) Invoke(ctx context.Context, req oracle.Request) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
