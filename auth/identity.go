package auth

import (
	"maps"
	"strings"
)

// Identity is an immutable snapshot of an authenticated principal.
//
// Identities are created with NewIdentity, usually by a provider exchange or an
// ID-token validation. There is no anonymous Identity: callers model "nobody"
// as a nil *Identity.
type Identity struct {
	providerID  string
	externalID  string
	email       string
	displayName string
	attributes  map[string]string
}

// IdentityOption sets an optional Identity field during construction.
type IdentityOption func(*Identity)

// WithEmail sets the email address reported by the provider.
func WithEmail(email string) IdentityOption {
	return func(i *Identity) { i.email = strings.TrimSpace(email) }
}

// WithDisplayName sets the human readable name reported by the provider.
func WithDisplayName(name string) IdentityOption {
	return func(i *Identity) { i.displayName = strings.TrimSpace(name) }
}

// WithAttribute records one provider specific attribute.
func WithAttribute(name, value string) IdentityOption {
	return func(i *Identity) {
		if name == "" {
			return
		}
		if i.attributes == nil {
			i.attributes = make(map[string]string)
		}
		i.attributes[name] = value
	}
}

// WithAttributes records a set of provider specific attributes. The map is copied.
func WithAttributes(attrs map[string]string) IdentityOption {
	return func(i *Identity) {
		for k, v := range attrs {
			WithAttribute(k, v)(i)
		}
	}
}

// NewIdentity builds an Identity for (providerID, externalID).
//
// NewIdentity fails with InvalidCredentials when either key component is empty.
func NewIdentity(providerID, externalID string, opts ...IdentityOption) (Identity, error) {
	providerID = strings.TrimSpace(providerID)
	externalID = strings.TrimSpace(externalID)
	if providerID == "" {
		return Identity{}, Errorf(KindInvalidCredentials, "identity provider id is required")
	}
	if externalID == "" {
		return Identity{}, Errorf(KindInvalidCredentials, "identity external id is required")
	}
	id := Identity{providerID: providerID, externalID: externalID}
	for _, opt := range opts {
		if opt != nil {
			opt(&id)
		}
	}
	return id, nil
}

// ProviderID returns the issuing authority, e.g. "github" or an OIDC issuer URL.
func (i Identity) ProviderID() string { return i.providerID }

// ExternalID returns the subject identifier, unique per provider.
func (i Identity) ExternalID() string { return i.externalID }

// Email returns the email address, or "" when the provider did not report one.
func (i Identity) Email() string { return i.email }

// DisplayName returns the display name, or "".
func (i Identity) DisplayName() string { return i.displayName }

// Attribute returns one provider specific attribute.
func (i Identity) Attribute(name string) (string, bool) {
	v, ok := i.attributes[name]
	return v, ok
}

// Attributes returns a copy of every provider specific attribute.
func (i Identity) Attributes() map[string]string {
	return maps.Clone(i.attributes)
}

// IsZero reports whether i was never constructed through NewIdentity.
func (i Identity) IsZero() bool {
	return i.providerID == "" && i.externalID == ""
}

// Same reports whether i and other describe the same principal.
func (i Identity) Same(other Identity) bool {
	return i.providerID == other.providerID && i.externalID == other.externalID
}

// String returns "provider:external" for logs.
func (i Identity) String() string {
	return i.providerID + ":" + i.externalID
}
