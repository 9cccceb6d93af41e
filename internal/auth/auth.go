// Package auth implements the hierarchical authorization policy: a
// tree of scopes grouped by endpoint family, each leaf closed to a kind
// of value, evaluated per request against the caller's identity and
// token scope.
package auth

import (
	"fmt"

	"github.com/mapbox/hecate-go/internal/errs"
)

// Value is a single scope leaf's configured requirement.
type Value string

const (
	ValuePublic   Value = "public"
	ValueUser     Value = "user"
	ValueSelf     Value = "self"
	ValueAdmin    Value = "admin"
	ValueDisabled Value = "disabled"
)

// Kind names one of the three closed sets a leaf's value must belong to,
// table.
type Kind string

const (
	KindAll Kind = "all" // public, user, admin, disabled
	KindSelf Kind = "self" // self, admin, disabled
	KindAuth Kind = "auth" // user, admin, disabled
)

var allowedByKind = map[Kind]map[Value]bool{
	KindAll:  {ValuePublic: true, ValueUser: true, ValueAdmin: true, ValueDisabled: true},
	KindSelf: {ValueSelf: true, ValueAdmin: true, ValueDisabled: true},
	KindAuth: {ValueUser: true, ValueAdmin: true, ValueDisabled: true},
}

// Leaf is one (endpoint family, name) -> (kind, value) entry, matching
// "a single table of (endpoint -> kind) pairs, with validation a
// fold over that table" redesign note.
type Leaf struct {
	Path  string
	Kind  Kind
	Value Value
}

// Config is the full parsed authorization configuration: a flat table of
// leaves plus the two process-wide fields.
type Config struct {
	Default Value
	Server  Value
	Leaves  map[string]Leaf
}

// Validate folds over every leaf and rejects any value outside its
// kind's closed set, aborting process start with a diagnostic naming the
// offending path.
func (c *Config) Validate() error {
	for path, leaf := range c.Leaves {
		allowed, ok := allowedByKind[leaf.Kind]
		if !ok {
			return fmt.Errorf("%s: unknown scope kind %q", path, leaf.Kind)
		}
		if !allowed[leaf.Value] {
			return fmt.Errorf("%s must be one of %s", path, describeKind(leaf.Kind))
		}
	}
	return nil
}

func describeKind(k Kind) string {
	switch k {
	case KindAll:
		return "'public', 'user', 'admin', or 'disabled'"
	case KindSelf:
		return "'self', 'admin', or 'disabled'"
	case KindAuth:
		return "'user', 'admin', or 'disabled'"
	default:
		return "unknown"
	}
}

// RW classifies whether an endpoint is a read or a write operation,
// used by the evaluation step that checks for a full-scope token.
type RW int

const (
	RWRead RW = iota
	RWFull
)

// TokenScope mirrors Token.scope.
type TokenScope string

const (
	TokenRead TokenScope = "read"
	TokenFull TokenScope = "full"
)

// Access mirrors User.access.
type Access string

const (
	AccessDefault  Access = "default"
	AccessAdmin    Access = "admin"
	AccessDisabled Access = "disabled"
)

// Identity is the authenticated caller attached to a request by
// middleware.
type Identity struct {
	Authenticated bool
	UID           int64
	Access        Access
	TokenScope    TokenScope
}

// Evaluate runs evaluation order for a single request against
// leafPath's configured scope.
func (c *Config) Evaluate(leafPath string, rw RW, id Identity) error {
	if id.Authenticated && id.Access == AccessDisabled {
		return errs.New(errs.NotAuthenticated, "Account disabled")
	}
	if id.Authenticated && id.TokenScope == TokenRead && rw == RWFull {
		return errs.New(errs.NotAuthenticated, "Read token cannot invoke write endpoints")
	}

	required := c.effectiveScope(leafPath)
	return evaluateScope(required, id)
}

// effectiveScope resolves the leaf's configured value (the process-wide
// Server value for the "server" path when no leaf is configured for it,
// admin for any other unconfigured path) and applies the Default
// elevation on top: a Default of user/admin elevates the baseline
// regardless of leaf configuration.
func (c *Config) effectiveScope(leafPath string) Value {
	leaf, ok := c.Leaves[leafPath]
	required := ValueAdmin
	if ok {
		required = leaf.Value
	} else if leafPath == "server" && c.Server != "" {
		required = c.Server
	}
	switch c.Default {
	case ValueUser:
		if required == ValuePublic {
			required = ValueUser
		}
	case ValueAdmin:
		required = ValueAdmin
	}
	return required
}

func evaluateScope(required Value, id Identity) error {
	switch required {
	case ValuePublic:
		return nil
	case ValueUser, ValueSelf:
		if !id.Authenticated {
			return errs.New(errs.NotAuthenticated, "Authentication required")
		}
		return nil
	case ValueAdmin:
		if !id.Authenticated || id.Access != AccessAdmin {
			return errs.New(errs.Forbidden, "Admin access required")
		}
		return nil
	case ValueDisabled:
		return errs.New(errs.Forbidden, "Endpoint disabled")
	default:
		return errs.New(errs.Internal, fmt.Sprintf("unknown scope value %q", required))
	}
}
