package exporter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/imeonm/imeonm/pkg/log"
	"github.com/stretchr/testify/mock"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type mockDevice struct {
	mock.Mock
}

func (m *mockDevice) RefreshScan(ctx context.Context) (json.RawMessage, error) {
	args := m.Called(ctx)
	raw, _ := args.Get(0).(json.RawMessage)
	return raw, args.Error(1)
}

func (m *mockDevice) Resolution() time.Duration {
	args := m.Called()
	return args.Get(0).(time.Duration)
}
