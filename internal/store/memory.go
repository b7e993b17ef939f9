package store

import (
	"context"
	"sync"

	"inferd/pkg/types"
)

// Memory keeps records in process memory. Records live until the process exits.
type Memory struct {
	mu        sync.RWMutex
	connected bool
	inputs    map[string]types.ModelInput
	outputs   map[string]types.ModelOutput
}

func NewMemory() *Memory {
	return &Memory{
		inputs:  make(map[string]types.ModelInput),
		outputs: make(map[string]types.ModelOutput),
	}
}

func (m *Memory) Scheme() string { return "memory" }

func (m *Memory) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

func (m *Memory) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *Memory) SaveInput(_ context.Context, in types.ModelInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.inputs[in.ID] = cloneInput(in)
	return nil
}

func (m *Memory) SaveOutput(_ context.Context, in types.ModelInput, out types.ModelOutput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	out.InputID = in.ID
	m.outputs[in.ID] = cloneOutput(out)
	return nil
}

func (m *Memory) GetInput(_ context.Context, id string) (*types.ModelInput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	in, ok := m.inputs[id]
	if !ok {
		return nil, nil
	}
	c := cloneInput(in)
	return &c, nil
}

func (m *Memory) GetOutput(_ context.Context, id string) (*types.ModelOutput, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return nil, ErrNotConnected
	}
	out, ok := m.outputs[id]
	if !ok {
		return nil, nil
	}
	c := cloneOutput(out)
	return &c, nil
}

// Payloads are byte slices; copies keep stored records immutable.
func cloneInput(in types.ModelInput) types.ModelInput {
	in.Payload = append([]byte(nil), in.Payload...)
	return in
}

func cloneOutput(out types.ModelOutput) types.ModelOutput {
	out.Payload = append([]byte(nil), out.Payload...)
	return out
}
