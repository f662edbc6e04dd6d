package api

import (
	"context"
	"net/http"
)

// Metadata is the ledger's self-description served at its root.
type Metadata struct {
	CurrencyCode   string            `json:"currency_code"`
	CurrencySymbol string            `json:"currency_symbol"`
	Prefix         string            `json:"ilp_prefix"`
	Precision      int               `json:"precision"`
	Scale          int               `json:"scale"`
	URLs           map[string]string `json:"urls"`
	Connectors     []string          `json:"connectors,omitempty"`
}

// GetMetadata fetches the ledger metadata document.
func (c *Client) GetMetadata(ctx context.Context) (*Metadata, error) {
	var meta Metadata
	if err := c.get(ctx, "/", &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// CheckAccount performs a single authorized GET on an account URI and reports
// the raw status and body. A transport failure is returned as err with status 0.
func (c *Client) CheckAccount(ctx context.Context, accountURI string) (int, []byte, error) {
	return c.do(ctx, http.MethodGet, accountURI)
}
