// Package auth holds the vocabulary shared by every authkestra component:
// the canonical [Identity], the signed [Claims] payload, the provider
// [TokenSet], and the closed error taxonomy ([Kind]).
//
// The package contains no I/O and no policy. Everything else in the module
// imports it; it imports nothing from the module.
package auth
