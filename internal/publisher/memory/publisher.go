// Package memory contains in-memory publishers for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/mangalib-parser/internal/manga"
)

// Publisher records job results and outcome events instead of sending them.
// It satisfies both manga.Publisher and manga.EventPublisher.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	results  []SentResult
}

// PublishedMessage captures one event publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// SentResult captures one callback delivery.
type SentResult struct {
	CallbackURL string
	Result      manga.JobResult
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Send records the result as if it had been POSTed to callbackURL.
func (p *Publisher) Send(_ context.Context, callbackURL string, result manga.JobResult) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, SentResult{CallbackURL: callbackURL, Result: result})
	return nil
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Results returns the recorded callback deliveries.
func (p *Publisher) Results() []SentResult {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]SentResult, len(p.results))
	copy(out, p.results)
	return out
}
