package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/MagicBeansAI/magictunnel/internal/mcperr"
	"github.com/MagicBeansAI/magictunnel/internal/routing"
	"github.com/MagicBeansAI/magictunnel/internal/substitution"
)

// GraphQLAgent POSTs {query, variables} to an endpoint (spec §4.A Graphql).
type GraphQLAgent struct {
	client *http.Client
}

func NewGraphQLAgent() *GraphQLAgent {
	return &GraphQLAgent{client: &http.Client{}}
}

type graphqlRequestBody struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphqlResponseBody struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

func (a *GraphQLAgent) Execute(ctx context.Context, d *routing.Descriptor, params substitution.Params) (Result, error) {
	cfg := d.GraphQL
	if cfg == nil {
		return Result{}, mcperr.New(mcperr.KindConfig, "graphql routing missing graphql config")
	}

	endpoint, err := substitution.Render(cfg.URL, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering graphql url", err)
	}
	query, err := substitution.Render(cfg.Query, params)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering graphql query", err)
	}

	variables := map[string]interface{}{}
	for k, raw := range cfg.Variables {
		v, err := substitution.Render(raw, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering variable "+k, err)
		}
		variables[k] = v
	}

	payload, err := json.Marshal(graphqlRequestBody{Query: query, Variables: variables})
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindConfig, "marshaling graphql payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindConfig, "building graphql request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, raw := range cfg.Headers {
		v, err := substitution.Render(raw, params)
		if err != nil {
			return Result{}, mcperr.Wrap(mcperr.KindSubstitution, "rendering header "+k, err)
		}
		req.Header.Set(k, v)
	}
	if err := cfg.Auth.ApplyToRequest(req, params); err != nil {
		return Result{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, mcperr.Wrap(mcperr.KindTimeout, "graphql call timed out", ctx.Err())
		}
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "graphql request failed", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "reading graphql response", err)
	}

	var body graphqlResponseBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return Result{}, mcperr.Wrap(mcperr.KindBackend, "decoding graphql response", err)
	}
	if len(body.Errors) > 0 {
		msgs := make([]interface{}, len(body.Errors))
		for i, e := range body.Errors {
			msgs[i] = e.Message
		}
		return Result{}, mcperr.New(mcperr.KindBackend, "graphql errors").
			WithData(map[string]interface{}{"errors": msgs})
	}

	var data interface{}
	_ = json.Unmarshal(body.Data, &data)
	return Result{Success: true, Output: map[string]interface{}{"data": data}}, nil
}
