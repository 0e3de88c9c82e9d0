package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Relay/internal/core"
)

func (ctl *SignalWSController) handlePing(_ context.Context, _ *core.Session, _ json.RawMessage) (any, error) {
	return map[string]int64{"time": time.Now().UnixMilli()}, nil
}
