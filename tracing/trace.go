package tracing

import (
	"encoding/json"
	"fmt"

	gethtracing "github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/eth/tracers/logger"
)

// TraceConfig selects what the struct tracer records per step.
type TraceConfig struct {
	DisableStack     bool `toml:",omitempty"`
	DisableStorage   bool `toml:",omitempty"`
	EnableMemory     bool `toml:",omitempty"`
	EnableReturnData bool `toml:",omitempty"`
	Limit            int  `toml:",omitempty"` // maximum number of steps, 0 is unlimited
}

// StructLog is one recorded interpreter step.
type StructLog struct {
	Pc         uint64            `json:"pc"`
	Op         string            `json:"op"`
	Gas        uint64            `json:"gas"`
	GasCost    uint64            `json:"gasCost"`
	Depth      int               `json:"depth"`
	Error      string            `json:"error,omitempty"`
	Stack      []string          `json:"stack,omitempty"`
	Memory     []string          `json:"memory,omitempty"`
	Storage    map[string]string `json:"storage,omitempty"`
	ReturnData string            `json:"returnData,omitempty"`
	Refund     uint64            `json:"refund,omitempty"`
}

// TraceResult is the outcome of a traced transaction.
type TraceResult struct {
	Gas         uint64      `json:"gas"`
	Failed      bool        `json:"failed"`
	ReturnValue string      `json:"returnValue"`
	StructLogs  []StructLog `json:"structLogs"`
}

// StructTracer records every step of one transaction.
type StructTracer struct {
	inner *logger.StructLogger
}

// NewStructTracer returns a tracer configured by cfg. A nil cfg records
// stack and storage but no memory or return data.
func NewStructTracer(cfg *TraceConfig) *StructTracer {
	var lc logger.Config
	if cfg != nil {
		lc = logger.Config{
			EnableMemory:     cfg.EnableMemory,
			DisableStack:     cfg.DisableStack,
			DisableStorage:   cfg.DisableStorage,
			EnableReturnData: cfg.EnableReturnData,
			Limit:            cfg.Limit,
		}
	}
	return &StructTracer{inner: logger.NewStructLogger(&lc)}
}

// Hooks returns the interpreter hooks to pass to the engine.
func (t *StructTracer) Hooks() *gethtracing.Hooks {
	return t.inner.Hooks()
}

// Result decodes what was recorded.
func (t *StructTracer) Result() (*TraceResult, error) {
	raw, err := t.inner.GetResult()
	if err != nil {
		return nil, err
	}
	res := new(TraceResult)
	if err := json.Unmarshal(raw, res); err != nil {
		return nil, fmt.Errorf("decode struct trace: %w", err)
	}
	return res, nil
}
