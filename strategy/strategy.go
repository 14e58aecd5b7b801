// Package strategy binds each record type to a merge strategy and owns the
// custom resolvers that compute merged payloads.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nawedy/Lena-Social-Ecosystem-sub004/record"
)

// Kind is the policy that decides how a conflict of a type is resolved.
type Kind string

const (
	LocalWins  Kind = "local-wins"
	RemoteWins Kind = "remote-wins"
	Manual     Kind = "manual"
	Custom     Kind = "custom"
)

// Kinds lists every strategy kind.
var Kinds = []Kind{LocalWins, RemoteWins, Manual, Custom}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case LocalWins, RemoteWins, Manual, Custom:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ParseKind converts s into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown merge strategy %q", s)
	}
	return k, nil
}

// Names of the built-in resolvers.
const (
	PostMerge    = "post-merge"
	ProfileMerge = "profile-merge"
)

// ErrUnrecoverable marks resolver failures that retrying cannot fix, such
// as inputs of the wrong record type.
var ErrUnrecoverable = errors.New("strategy: unrecoverable merge failure")

// Resolver computes a merged payload from the local and remote versions.
type Resolver interface {
	Merge(ctx context.Context, local, remote record.Payload) (record.Payload, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, local, remote record.Payload) (record.Payload, error)

func (f ResolverFunc) Merge(ctx context.Context, local, remote record.Payload) (record.Payload, error) {
	return f(ctx, local, remote)
}

// Binding is the strategy in force for one record type.
type Binding struct {
	Kind Kind

	// Resolver names the custom resolver; set only for Custom.
	Resolver string

	UpdatedAt time.Time
}

// Validate checks that a custom binding names a resolver and that no other
// kind does.
func (b Binding) Validate() error {
	if !b.Kind.Valid() {
		return fmt.Errorf("unknown merge strategy %q", b.Kind)
	}
	if b.Kind == Custom && b.Resolver == "" {
		return errors.New("custom strategy requires a resolver name")
	}
	if b.Kind != Custom && b.Resolver != "" {
		return fmt.Errorf("strategy %s does not take a resolver", b.Kind)
	}
	return nil
}

// Defaults returns the bindings used before any are persisted. Posts and
// profiles merge automatically; a human can still override a pending one
// with ResolveManually, or bind the type to Manual.
func Defaults() map[record.Type]Binding {
	return map[record.Type]Binding{
		record.TypePost:    {Kind: Custom, Resolver: PostMerge},
		record.TypeMessage: {Kind: RemoteWins},
		record.TypeProfile: {Kind: Custom, Resolver: ProfileMerge},
		record.TypeMedia:   {Kind: LocalWins},
	}
}

// defaultResolver is the resolver used when a type is switched to Custom
// without naming one.
func defaultResolver(t record.Type) string {
	switch t {
	case record.TypePost:
		return PostMerge
	case record.TypeProfile:
		return ProfileMerge
	}
	return ""
}
