package oidc

import "slices"

// Metadata is the subset of the OpenID Provider Metadata document used by
// this package.
type Metadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	UserInfoEndpoint              string   `json:"userinfo_endpoint"`
	JWKSURI                       string   `json:"jwks_uri"`
	RevocationEndpoint            string   `json:"revocation_endpoint"`
	ScopesSupported               []string `json:"scopes_supported"`
	ResponseTypesSupported        []string `json:"response_types_supported"`
	IDTokenSigningAlgValues       []string `json:"id_token_signing_alg_values_supported"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported"`
}

// SupportsPKCE reports whether the issuer advertises the S256 challenge
// method. Issuers that advertise nothing are assumed to support it.
func (m *Metadata) SupportsPKCE() bool {
	return len(m.CodeChallengeMethodsSupported) == 0 || slices.Contains(m.CodeChallengeMethodsSupported, "S256")
}

func (m *Metadata) missing() string {
	switch {
	case m.Issuer == "":
		return "issuer"
	case m.AuthorizationEndpoint == "":
		return "authorization_endpoint"
	case m.TokenEndpoint == "":
		return "token_endpoint"
	case m.JWKSURI == "":
		return "jwks_uri"
	}
	return ""
}

func (m *Metadata) clone() *Metadata {
	out := *m
	out.ScopesSupported = slices.Clone(m.ScopesSupported)
	out.ResponseTypesSupported = slices.Clone(m.ResponseTypesSupported)
	out.IDTokenSigningAlgValues = slices.Clone(m.IDTokenSigningAlgValues)
	out.CodeChallengeMethodsSupported = slices.Clone(m.CodeChallengeMethodsSupported)
	return &out
}
