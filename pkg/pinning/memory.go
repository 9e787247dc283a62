package pinning

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/LeeDigitalWorks/rtastore/pkg/contentid"
	"github.com/LeeDigitalWorks/rtastore/pkg/utils"
)

// BackendMemory pins in process. Used for local runs and tests.
const BackendMemory = "memory"

const defaultMemoryGateway = "http://localhost:8080/ipfs/{cid}"

func init() {
	Register(BackendMemory, func(cfg Config) (Pinner, error) {
		return NewMemory(cfg.GatewayTemplate), nil
	})
}

// Pin is a stored in-memory pin.
type Pin struct {
	Name     string
	Data     []byte
	Tags     map[string]string
	Checksum uint64
}

// Memory is an in-process Pinner.
type Memory struct {
	mu       sync.RWMutex
	pins     map[string]Pin
	gateway  string
	failWith error
}

// NewMemory creates an empty in-memory pinner.
func NewMemory(gatewayTemplate string) *Memory {
	if gatewayTemplate == "" {
		gatewayTemplate = defaultMemoryGateway
	}
	return &Memory{
		pins:    make(map[string]Pin),
		gateway: gatewayTemplate,
	}
}

func (m *Memory) Name() string {
	return BackendMemory
}

func (m *Memory) Pin(ctx context.Context, req PinRequest) (PinResult, error) {
	if err := ctx.Err(); err != nil {
		return PinResult{}, err
	}

	m.mu.RLock()
	failWith := m.failWith
	m.mu.RUnlock()
	if failWith != nil {
		return PinResult{}, failWith
	}

	id, err := contentid.String(req.Data)
	if err != nil {
		return PinResult{}, fmt.Errorf("compute content id: %w", err)
	}
	pin := Pin{
		Name:     req.Name,
		Data:     bytes.Clone(req.Data),
		Tags:     maps.Clone(req.Tags),
		Checksum: utils.Crc64nvme(req.Data),
	}

	m.mu.Lock()
	m.pins[id] = pin
	m.mu.Unlock()

	return PinResult{
		ContentID: id,
		Size:      int64(len(req.Data)),
		Checksum:  pin.Checksum,
		PinnedAt:  time.Now(),
	}, nil
}

func (m *Memory) GatewayURL(contentID string) string {
	return contentid.FillTemplate(m.gateway, contentID)
}

func (m *Memory) Close() error {
	return nil
}

// Get returns a stored pin.
func (m *Memory) Get(contentID string) (Pin, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pins[contentID]
	return p, ok
}

// Len returns the number of stored pins.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pins)
}

// SetError makes every subsequent Pin fail with err (nil clears).
func (m *Memory) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}
