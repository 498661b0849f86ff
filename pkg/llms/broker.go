package llms

import (
	"fmt"

	"github.com/corvidlabs/symborc/pkg/registry"
)

// LLMType identifies a configured model (vendor/host combination), the
// key MessageProperties.ModelConfig resolves against.
type LLMType string

// Broker maps an LLMType to its Client, matching the teacher's registry-
// backed dispatch pattern used throughout this module.
type Broker struct {
	clients *registry.BaseRegistry[Client]
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{clients: registry.NewBaseRegistry[Client]()}
}

// Register adds a client under type name.
func (b *Broker) Register(t LLMType, client Client) error {
	return b.clients.Register(string(t), client)
}

// Client resolves a LLMType to its Client, failing with UnsupportedModel
// if none is registered.
func (b *Broker) Client(t LLMType) (Client, error) {
	client, ok := b.clients.Get(string(t))
	if !ok {
		return nil, &UnsupportedModelError{Type: t}
	}
	return client, nil
}

// RegisteredModels lists every LLMType currently dispatchable.
func (b *Broker) RegisteredModels() []string {
	return b.clients.Names()
}

// UnsupportedModelError reports that no client is registered for an
// LLMType, the terminal failure for an unresolvable ModelConfig.
type UnsupportedModelError struct {
	Type LLMType
}

func (e *UnsupportedModelError) Error() string {
	return fmt.Sprintf("llms: unsupported model %q", e.Type)
}
