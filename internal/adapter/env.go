package adapter

import (
	"os"
	"time"
)

// Environment variables recognized by the backend config boundary.
const (
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvOpenAIEndpoint    = "OPENAI_ENDPOINT"
	EnvAnthropicKey      = "ANTHROPIC_API_KEY"
	EnvAnthropicEndpoint = "ANTHROPIC_ENDPOINT"
	EnvGeminiKey         = "GEMINI_API_KEY"
	EnvGeminiEndpoint    = "GEMINI_ENDPOINT"
	EnvOllamaEndpoint    = "OLLAMA_ENDPOINT"
	EnvTGIEndpoint       = "TGI_ENDPOINT"
	EnvTGIToken          = "HF_TOKEN"
	EnvQuartEndpoint     = "QUART_ENDPOINT"
	EnvRequestTimeout    = "BACKEND_REQUEST_TIMEOUT"
)

// ConfigsFromEnv is the single environment boundary for backend credentials.
// A backend is enabled by the presence of its key or endpoint variable;
// ollama is always enabled since it defaults to a local daemon. Validity of
// what was found is judged later by CheckEnvironment, not here.
func ConfigsFromEnv() map[string]Config {
	timeout := time.Duration(0)
	if v := os.Getenv(EnvRequestTimeout); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	cfgs := map[string]Config{
		BackendOllama: {Endpoint: os.Getenv(EnvOllamaEndpoint), Timeout: timeout},
	}

	if key, ep := os.Getenv(EnvOpenAIKey), os.Getenv(EnvOpenAIEndpoint); key != "" || ep != "" {
		cfgs[BackendOpenAI] = Config{APIKey: key, Endpoint: ep, Timeout: timeout}
	}
	if key, ep := os.Getenv(EnvAnthropicKey), os.Getenv(EnvAnthropicEndpoint); key != "" || ep != "" {
		cfgs[BackendAnthropic] = Config{APIKey: key, Endpoint: ep, Timeout: timeout}
	}
	if key, ep := os.Getenv(EnvGeminiKey), os.Getenv(EnvGeminiEndpoint); key != "" || ep != "" {
		cfgs[BackendGemini] = Config{APIKey: key, Endpoint: ep, Timeout: timeout}
	}
	if ep := os.Getenv(EnvTGIEndpoint); ep != "" {
		cfgs[BackendTGI] = Config{APIKey: os.Getenv(EnvTGIToken), Endpoint: ep, Timeout: timeout}
	}
	if ep := os.Getenv(EnvQuartEndpoint); ep != "" {
		cfgs[BackendQuart] = Config{Endpoint: ep, Timeout: timeout}
	}

	return cfgs
}
