// Package jwt issues and validates compact signed tokens.
//
// [Verifier] is the single verification primitive of the module: it enforces an
// algorithm allow-list, resolves the key by kid through a [KeyResolver] (static
// keys or a jwks.Cache), and maps every golang-jwt failure onto the auth error
// taxonomy. [Manager] builds on it to issue user and client tokens.
package jwt
