package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const discoveryTimeout = 10 * time.Second

// discoveryDoc is the subset of an OpenID Connect discovery document needed
// to verify access tokens.
type discoveryDoc struct {
	Issuer  string   `json:"issuer"`
	JWKSURI string   `json:"jwks_uri"`
	Algs    []string `json:"id_token_signing_alg_values_supported"`
}

// DiscoverJWKS resolves the JWKS endpoint of issuer through its
// /.well-known/openid-configuration document. The document must name the
// same issuer and, when it lists signing algorithms, include RS256.
func DiscoverJWKS(ctx context.Context, client *http.Client, issuer string) (string, error) {
	issuer = strings.TrimRight(issuer, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return "", fmt.Errorf("build discovery request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch discovery document: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode)
	}

	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return "", fmt.Errorf("decode discovery document: %w", err)
	}
	switch {
	case doc.JWKSURI == "":
		return "", fmt.Errorf("discovery document has no jwks_uri")
	case doc.Issuer != "" && strings.TrimRight(doc.Issuer, "/") != issuer:
		return "", fmt.Errorf("discovery document names issuer %q, expected %q", doc.Issuer, issuer)
	case len(doc.Algs) > 0 && !contains(doc.Algs, "RS256"):
		return "", fmt.Errorf("issuer does not sign with RS256")
	}
	return doc.JWKSURI, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
