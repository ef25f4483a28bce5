package client

import (
	"errors"
)

// Pool holds one client per endpoint. Account i is served by endpoint i mod n.
type Pool struct {
	clients []*Client
}

// NewPool dials every url. On failure the clients opened so far are closed.
func NewPool(urls []string, opts ...Option) (*Pool, error) {
	if len(urls) == 0 {
		return nil, errors.New("no endpoints configured")
	}

	p := &Pool{clients: make([]*Client, 0, len(urls))}
	for _, url := range urls {
		c, err := New(url, opts...)
		if err != nil {
			p.Close()
			return nil, err
		}
		p.clients = append(p.clients, c)
	}
	return p, nil
}

// For returns the client serving account index i
func (p *Pool) For(i int) *Client {
	if i < 0 {
		i = -i
	}
	return p.clients[i%len(p.clients)]
}

// Primary returns the first endpoint's client, used for monitoring and reporting
func (p *Pool) Primary() *Client {
	return p.clients[0]
}

// Len returns the number of endpoints
func (p *Pool) Len() int {
	return len(p.clients)
}

// Close closes every client
func (p *Pool) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}
