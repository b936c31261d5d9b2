package registry

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"privchat/internal/providers"
	"privchat/internal/providers/openai_api"
	"privchat/internal/providers/openai_compat"
)

// Params is the loosely typed parameter set a provider is declared with.
// Recognized keys: api_key, base_url, organization, endpoint, models, headers, timeout.
type Params map[string]any

type BuildOptions struct {
	HTTPClient *http.Client
	// Timeouts per type, applied when params carry none.
	HostedTimeout     time.Duration
	SelfHostedTimeout time.Duration
	Logger            zerolog.Logger
}

func Build(t providers.Type, params Params, opts BuildOptions) (providers.Provider, error) {
	if params == nil {
		params = Params{}
	}
	switch t {
	case providers.TypeOpenAI:
		apiKey := params.String("api_key")
		if apiKey == "" {
			return nil, providers.Configf("api_key is required for %s provider", t)
		}
		timeout, err := params.Duration("timeout", opts.HostedTimeout)
		if err != nil {
			return nil, err
		}
		return openai_api.New(openai_api.Config{
			APIKey:       apiKey,
			BaseURL:      params.String("base_url"),
			Organization: params.String("organization"),
			Models:       params.Strings("models"),
			Timeout:      timeout,
			HTTPClient:   opts.HTTPClient,
			Logger:       opts.Logger.With().Str("provider_type", string(t)).Logger(),
		}), nil

	case providers.TypeVLLM:
		endpoint := params.String("endpoint")
		if endpoint == "" {
			return nil, providers.Configf("endpoint is required for %s provider", t)
		}
		timeout, err := params.Duration("timeout", opts.SelfHostedTimeout)
		if err != nil {
			return nil, err
		}
		return openai_compat.New(openai_compat.Config{
			Endpoint:   endpoint,
			APIKey:     params.String("api_key"),
			Headers:    params.StringMap("headers"),
			Models:     params.Strings("models"),
			Timeout:    timeout,
			HTTPClient: opts.HTTPClient,
		}), nil

	default:
		return nil, providers.Configf("unsupported provider type %q", t)
	}
}

func (p Params) String(key string) string {
	v, _ := p[key].(string)
	return strings.TrimSpace(v)
}

func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (p Params) StringMap(key string) map[string]string {
	switch v := p[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			out[k] = fmt.Sprint(item)
		}
		return out
	default:
		return nil
	}
}

// Duration accepts "90s" style strings or a number of seconds.
func (p Params) Duration(key string, fallback time.Duration) (time.Duration, error) {
	switch v := p[key].(type) {
	case nil:
		return fallback, nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil || d <= 0 {
			return 0, providers.Configf("invalid %s %q", key, v)
		}
		return d, nil
	case float64:
		if v <= 0 {
			return 0, providers.Configf("invalid %s %v", key, v)
		}
		return time.Duration(v * float64(time.Second)), nil
	case int:
		if v <= 0 {
			return 0, providers.Configf("invalid %s %d", key, v)
		}
		return time.Duration(v) * time.Second, nil
	default:
		return 0, providers.Configf("invalid %s type %T", key, v)
	}
}
