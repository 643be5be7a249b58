package apiclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/tonimelisma/bulkmutate/internal/remote"
)

type mutateRequest struct {
	Operations     []remote.Operation `json:"operations"`
	PartialFailure bool               `json:"partialFailure"`
}

type mutateResponse struct {
	Results              []remote.Entity `json:"results"`
	PartialFailureErrors []wireItemError `json:"partialFailureErrors"`
}

type queryResponse struct {
	Results []remote.Entity `json:"results"`
}

// Account is a remote.Service bound to one account id.
type Account struct {
	client *Client
	id     string
}

// Account returns a Service handle for accountID.
func (c *Client) Account(accountID string) *Account {
	return &Account{client: c, id: accountID}
}

// Connect implements remote.Connector. Handles are cheap; the session cache
// in remote.Sessions keeps one per account.
func (c *Client) Connect(_ context.Context, accountID string) (remote.Service, error) {
	if accountID == "" {
		return nil, fmt.Errorf("apiclient: empty account id")
	}

	c.logger.Debug("opening account handle", slog.String("account", accountID))

	return c.Account(accountID), nil
}

// Mutate submits ops in one call with partial failure enabled.
func (a *Account) Mutate(ctx context.Context, ops []remote.Operation) (*remote.BatchResult, error) {
	var resp mutateResponse

	path := "/accounts/" + url.PathEscape(a.id) + "/mutate"
	if err := a.client.postJSON(ctx, path, mutateRequest{Operations: ops, PartialFailure: true}, &resp); err != nil {
		return nil, err
	}

	result := &remote.BatchResult{Results: resp.Results}
	for _, w := range resp.PartialFailureErrors {
		result.Failures = append(result.Failures, w.toItemError())
	}

	a.client.logger.Debug("mutate completed",
		slog.String("account", a.id),
		slog.Int("operations", len(ops)),
		slog.Int("failures", len(result.Failures)),
	)

	return result, nil
}

// List runs a query against the account.
func (a *Account) List(ctx context.Context, q remote.Query) ([]remote.Entity, error) {
	var resp queryResponse

	path := "/accounts/" + url.PathEscape(a.id) + "/query"
	if err := a.client.postJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	return resp.Results, nil
}
