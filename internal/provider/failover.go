package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"jarvis/internal/domain"
)

// FailoverProvider answers with the first provider of general.failoverChain
// that succeeds. The requested model only applies to the head of the chain;
// fallbacks use their own default model.
type FailoverProvider struct {
	providers []domain.Provider
	logger    *slog.Logger
}

func NewFailoverProvider(providers []domain.Provider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverProvider{providers: providers, logger: logger}
}

func (fp *FailoverProvider) Name() string {
	names := make([]string, len(fp.providers))
	for i, p := range fp.providers {
		names[i] = p.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

// Models lists the models of every provider once, in chain order.
func (fp *FailoverProvider) Models() []string {
	var all []string
	seen := make(map[string]bool)
	for _, p := range fp.providers {
		for _, m := range p.Models() {
			if !seen[m] {
				seen[m] = true
				all = append(all, m)
			}
		}
	}
	return all
}

// Healthy succeeds when any provider is healthy, so /admin health stays
// green while a fallback can still answer.
func (fp *FailoverProvider) Healthy(ctx context.Context) error {
	var errs []error
	for _, p := range fp.providers {
		err := p.Healthy(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
	}
	return fmt.Errorf("no healthy provider in failover chain: %w", errors.Join(errs...))
}

func (fp *FailoverProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if len(fp.providers) == 0 {
		return nil, errors.New("failover chain is empty")
	}
	var lastErr error
	for i, p := range fp.providers {
		attempt := req
		if i > 0 {
			attempt.Model = ""
		}
		resp, err := p.Chat(ctx, attempt)
		if err == nil {
			if i > 0 {
				fp.logger.Info("answered by fallback provider", "provider", p.Name(), "position", i+1)
			}
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		fp.logger.Warn("provider failed, trying next", "provider", p.Name(), "position", i+1, "err", err)
	}
	return nil, fmt.Errorf("all providers in failover chain failed: %w", lastErr)
}
