// Package auth provides ledger authentication using HTTP basic credentials.
package auth

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Credentials identify the administrative ledger user every proxy acts as.
type Credentials struct {
	Username string // Admin account username
	Password string // Admin account password
	Account  string // Admin account URI (optional, informational)
}

// LoadCredentials builds credentials, reading the password from passwordPath
// when password is empty.
func LoadCredentials(username, password, passwordPath string) (*Credentials, error) {
	if username == "" {
		return nil, fmt.Errorf("admin username is required")
	}
	if password == "" && passwordPath == "" {
		return nil, fmt.Errorf("admin password or password file is required")
	}

	if password == "" {
		data, err := os.ReadFile(passwordPath)
		if err != nil {
			return nil, fmt.Errorf("read password file: %w", err)
		}
		password = strings.TrimSpace(string(data))
		if password == "" {
			return nil, fmt.Errorf("password file %s is empty", passwordPath)
		}
	}

	return &Credentials{
		Username: username,
		Password: password,
	}, nil
}

// BasicAuth returns the value of an Authorization header for these credentials.
func (c *Credentials) BasicAuth() string {
	token := base64.StdEncoding.EncodeToString([]byte(c.Username + ":" + c.Password))
	return "Basic " + token
}

// Apply sets the Authorization header on an outgoing request.
func (c *Credentials) Apply(req *http.Request) {
	if c == nil || c.Username == "" {
		return
	}
	req.SetBasicAuth(c.Username, c.Password)
}

// Header returns handshake headers for the websocket connection.
func (c *Credentials) Header() http.Header {
	header := http.Header{}
	header.Set("Accept", "application/json")
	if c != nil && c.Username != "" {
		header.Set("Authorization", c.BasicAuth())
	}
	return header
}
