package llm

import (
	"fmt"

	"github.com/hyperengineering/planlearn/internal/config"
)

// DefaultOpenAIModel is used for caller-supplied OpenAI keys when the
// server itself runs another provider.
const DefaultOpenAIModel = "gpt-4.1-mini"

// Factory hands out the provider for a request.
type Factory struct {
	defaultProvider Provider
	openAIModel     string
	newOpenAI       func(apiKey, model string) Provider
}

// NewFactory builds the server's default provider from configuration.
func NewFactory(cfg config.LLMConfig) (*Factory, error) {
	f := &Factory{
		openAIModel: DefaultOpenAIModel,
		newOpenAI: func(apiKey, model string) Provider {
			return NewOpenAI(apiKey, model)
		},
	}

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		f.openAIModel = cfg.Model
		f.defaultProvider = NewOpenAI(cfg.OpenAIAPIKey, cfg.Model)
	case config.ProviderAnthropic:
		f.defaultProvider = NewAnthropic(cfg.AnthropicAPIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
	return f, nil
}

// NewStaticFactory returns a factory that always hands out p.
func NewStaticFactory(p Provider) *Factory {
	return &Factory{
		defaultProvider: p,
		newOpenAI:       func(string, string) Provider { return p },
	}
}

// Default returns the server-keyed provider.
func (f *Factory) Default() Provider {
	return f.defaultProvider
}

// For returns the provider for a request. A non-empty byoKey yields an
// OpenAI provider authenticated with the caller's key.
func (f *Factory) For(byoKey string) Provider {
	if byoKey == "" {
		return f.defaultProvider
	}
	return f.newOpenAI(byoKey, f.openAIModel)
}
