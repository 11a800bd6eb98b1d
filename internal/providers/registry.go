package providers

import (
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/aspired-future/startales-sub005/internal/config"
	"github.com/aspired-future/startales-sub005/internal/interfaces"
)

// Build constructs providers in the priority order named by the
// configuration. A provider that fails to construct is skipped with a
// warning; the result is empty only when every entry failed.
func Build(cfg config.AIConfig, logger *log.Logger) ([]interfaces.Provider, error) {
	out := make([]interfaces.Provider, 0, len(cfg.ProviderOrder))
	for _, name := range cfg.ProviderOrder {
		switch name {
		case "openai":
			if cfg.OpenAI.APIKey == "" {
				logger.Warn("openai provider configured without api key, skipping")
				continue
			}
			out = append(out, NewOpenAIProvider(cfg.OpenAI))
		case "ollama":
			p, err := NewOllamaProvider(cfg.Ollama)
			if err != nil {
				logger.Warn("ollama provider unavailable, skipping", "error", err)
				continue
			}
			out = append(out, p)
		default:
			return nil, fmt.Errorf("unknown provider %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable providers in order %v", cfg.ProviderOrder)
	}
	return out, nil
}
