package llm

import "context"

// Client is the interface every LLM backend must implement. The turn
// engine and session controller depend only on this contract, never on a
// particular provider, so tests substitute scripted fakes.
type Client interface {
	// Chat sends one model query and returns the assistant's reply.
	Chat(ctx context.Context, req *Request) (*Response, error)

	// Ping checks if the backend is reachable and the credentials work.
	Ping(ctx context.Context) error
}
