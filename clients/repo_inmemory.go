package clients

import (
	"errors"
	"sort"
	"sync"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface.
// Suitable for a single-instance deployment; a restart discards all clients.
type InMemoryRepo struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewInMemoryRepo creates a new in-memory client repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		clients: make(map[string]*Client),
	}
}

// Upsert stores or updates a client
func (r *InMemoryRepo) Upsert(client *Client) error {
	if client == nil {
		return errors.New("client cannot be nil")
	}
	if client.ID == "" {
		return errors.New("client ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.clients[client.ID] = copyClient(client)
	return nil
}

// Get retrieves a client by ID
func (r *InMemoryRepo) Get(clientID string) (*Client, error) {
	if clientID == "" {
		return nil, errors.New("client ID cannot be empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[clientID]
	if !exists {
		return nil, ErrNotFound
	}
	return copyClient(client), nil
}

// Delete removes a client
func (r *InMemoryRepo) Delete(clientID string) error {
	if clientID == "" {
		return errors.New("client ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, clientID)
	return nil
}

// List returns registered clients ordered by ID
func (r *InMemoryRepo) List(offset, limit int) ([]*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if offset >= len(ids) {
		return []*Client{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	result := make([]*Client, 0, end-offset)
	for _, id := range ids[offset:end] {
		result = append(result, copyClient(r.clients[id]))
	}
	return result, nil
}

// copyClient returns a deep copy to prevent external modifications
func copyClient(c *Client) *Client {
	clone := *c
	clone.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	clone.GrantTypes = append([]string(nil), c.GrantTypes...)
	clone.ResponseTypes = append([]string(nil), c.ResponseTypes...)
	return &clone
}
