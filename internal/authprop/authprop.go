// Package authprop implements the per-provider credential-propagation
// shapes supplemented onto both External-MCP connections and the Http/
// Graphql agents (spec §D): bearer token, api_key, query_param, and a free
// header map, each rendering its credential fields as substitution
// templates so a token can come from a variant's params or environment.
package authprop

import (
	"fmt"
	"net/http"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// Kind selects one of the four convergent auth shapes; the zero value
// disables credential propagation entirely.
type Kind string

const (
	KindNone       Kind = ""
	KindBearer     Kind = "bearer"
	KindAPIKey     Kind = "api_key"
	KindQueryParam Kind = "query_param"
	KindHeader     Kind = "header"
)

// Config is the routing-descriptor-embedded auth block. Token/HeaderName/
// QueryParam/Headers values are substitution templates, rendered at call
// time against the same params the rest of the descriptor renders against
// (I3: no secret is ever resolved at load time).
type Config struct {
	Kind       Kind              `yaml:"kind,omitempty" json:"kind,omitempty"`
	Token      string            `yaml:"token,omitempty" json:"token,omitempty"`
	HeaderName string            `yaml:"headerName,omitempty" json:"headerName,omitempty"`
	QueryParam string            `yaml:"queryParam,omitempty" json:"queryParam,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// ApplyToRequest sets this config's rendered credential onto req. A nil
// Config or KindNone is a no-op, so callers can embed *Config unconditionally.
func (c *Config) ApplyToRequest(req *http.Request, params substitution.Params) error {
	if c == nil || c.Kind == KindNone {
		return nil
	}
	switch c.Kind {
	case KindBearer:
		token, err := substitution.Render(c.Token, params)
		if err != nil {
			return mcperr.Wrap(mcperr.KindSubstitution, "rendering bearer token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	case KindAPIKey:
		value, err := substitution.Render(c.Token, params)
		if err != nil {
			return mcperr.Wrap(mcperr.KindSubstitution, "rendering api key", err)
		}
		req.Header.Set(orDefault(c.HeaderName, "X-API-Key"), value)
	case KindQueryParam:
		value, err := substitution.Render(c.Token, params)
		if err != nil {
			return mcperr.Wrap(mcperr.KindSubstitution, "rendering query param credential", err)
		}
		q := req.URL.Query()
		q.Set(orDefault(c.QueryParam, "api_key"), value)
		req.URL.RawQuery = q.Encode()
	case KindHeader:
		for k, raw := range c.Headers {
			v, err := substitution.Render(raw, params)
			if err != nil {
				return mcperr.Wrap(mcperr.KindSubstitution, "rendering header "+k, err)
			}
			req.Header.Set(k, v)
		}
	default:
		return mcperr.New(mcperr.KindConfig, fmt.Sprintf("unknown auth kind %q", c.Kind))
	}
	return nil
}

// ApplyToEnv renders this config's credential into env, for transports
// that take credentials as environment variables rather than HTTP headers
// (an External-MCP connection's spawned stdio child has no request to set
// a header on). Returns env unchanged (or a freshly allocated map, if env
// was nil and a credential was applied).
func (c *Config) ApplyToEnv(env map[string]string, params substitution.Params) (map[string]string, error) {
	if c == nil || c.Kind == KindNone {
		return env, nil
	}
	if env == nil {
		env = map[string]string{}
	}
	switch c.Kind {
	case KindBearer:
		value, err := substitution.Render(c.Token, params)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindSubstitution, "rendering bearer token for env", err)
		}
		env[envKey(orDefault(c.HeaderName, "authorization"))] = "Bearer " + value
	case KindAPIKey:
		value, err := substitution.Render(c.Token, params)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindSubstitution, "rendering api key for env", err)
		}
		env[envKey(orDefault(c.HeaderName, "x-api-key"))] = value
	case KindQueryParam:
		value, err := substitution.Render(c.Token, params)
		if err != nil {
			return nil, mcperr.Wrap(mcperr.KindSubstitution, "rendering query param credential for env", err)
		}
		env[envKey(orDefault(c.QueryParam, "api_key"))] = value
	case KindHeader:
		for k, raw := range c.Headers {
			v, err := substitution.Render(raw, params)
			if err != nil {
				return nil, mcperr.Wrap(mcperr.KindSubstitution, "rendering header "+k+" for env", err)
			}
			env[envKey(k)] = v
		}
	default:
		return nil, mcperr.New(mcperr.KindConfig, fmt.Sprintf("unknown auth kind %q", c.Kind))
	}
	return env, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// envKey turns a header/query-param name into a conventional upper-snake
// env var name, e.g. "X-Api-Key" -> "X_API_KEY".
func envKey(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-('a'-'A'))
		case r == '-' || r == ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
