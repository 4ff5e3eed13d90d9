package xray

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"qagen/internal/errs"
)

// Xray issues tokens valid for a day; refresh well before that.
const tokenLifetime = 23 * time.Hour

// NewTokenSource returns a static source when token is set, otherwise one that trades the
// client credentials for a token at the authenticate endpoint. Tokens are reused until expiry.
func NewTokenSource(baseURL string, token string, clientID string, clientSecret string, httpClient *http.Client) oauth2.TokenSource {
	if strings.TrimSpace(token) != "" {
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(token), TokenType: "Bearer"})
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return oauth2.ReuseTokenSource(nil, &credentialsTokenSource{
		endpoint:     strings.TrimRight(baseURL, "/") + "/authenticate",
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		now:          time.Now,
	})
}

type credentialsTokenSource struct {
	endpoint     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time
}

func (s *credentialsTokenSource) Token() (*oauth2.Token, error) {
	body, err := json.Marshal(map[string]string{
		"client_id":     s.clientID,
		"client_secret": s.clientSecret,
	})
	if err != nil {
		return nil, errs.Wrap(err, "encode xray credentials")
	}

	// oauth2.TokenSource has no context; the client timeout bounds the call.
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(err, "build xray authenticate request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(err, "authenticate with xray")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return nil, errs.Wrap(err, "read xray authenticate response")
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	// The endpoint answers with a bare JSON string.
	var token string
	if err := json.Unmarshal(raw, &token); err != nil {
		token = strings.Trim(strings.TrimSpace(string(raw)), `"`)
	}
	if token == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: "empty token"}
	}

	return &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      s.now().Add(tokenLifetime),
	}, nil
}
