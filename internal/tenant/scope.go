// Package tenant defines the (workspace, agent) scope that isolates one
// caller's data from another's, and the registry that binds scopes to
// collections.
//
// Scope enforcement is fail-closed: read and write paths that require a
// scope return ErrMissingScope when the context carries none. The serving
// layer injects the scope; everything below trusts the context, never
// request parameters.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrMissingScope is returned when an operation requires a tenant scope
	// and the context carries none.
	ErrMissingScope = errors.New("missing tenant scope")

	// ErrInvalidScope indicates a scope with an empty or malformed workspace.
	ErrInvalidScope = errors.New("invalid tenant scope")
)

// Reserved payload field names stamped onto every stored record. Caller
// filters may not reference these; the retrieval layer rejects filters that
// do.
const (
	FieldWorkspace = "workspace"
	FieldAgent     = "agent"
)

// SharedAgent is the agent value for records visible to every agent in a
// workspace.
const SharedAgent = ""

const maxScopeFieldLen = 64

// scopeFieldPattern allows alphanumeric, hyphen, underscore.
var scopeFieldPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Scope identifies a tenant: a workspace plus an optional agent within it.
// An empty Agent means workspace-shared data.
type Scope struct {
	Workspace string
	Agent     string
}

// Validate checks scope fields against naming rules. Workspace is required;
// agent is optional but must match the same pattern when present.
func (s Scope) Validate() error {
	if s.Workspace == "" {
		return fmt.Errorf("%w: workspace required", ErrInvalidScope)
	}
	if len(s.Workspace) > maxScopeFieldLen || !scopeFieldPattern.MatchString(s.Workspace) {
		return fmt.Errorf("%w: workspace %q must match %s with max length %d",
			ErrInvalidScope, s.Workspace, scopeFieldPattern.String(), maxScopeFieldLen)
	}
	if s.Agent != "" {
		if len(s.Agent) > maxScopeFieldLen || !scopeFieldPattern.MatchString(s.Agent) {
			return fmt.Errorf("%w: agent %q must match %s with max length %d",
				ErrInvalidScope, s.Agent, scopeFieldPattern.String(), maxScopeFieldLen)
		}
	}
	return nil
}

// Fields returns the payload fields this scope stamps onto stored records.
func (s Scope) Fields() map[string]any {
	return map[string]any{
		FieldWorkspace: s.Workspace,
		FieldAgent:     s.Agent,
	}
}

type scopeCtxKey struct{}

// ContextWithScope returns a context carrying the scope. The scope is
// validated; callers get the error at injection time rather than deep inside
// an operation.
func ContextWithScope(ctx context.Context, scope Scope) (context.Context, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return context.WithValue(ctx, scopeCtxKey{}, scope), nil
}

// ScopeFromContext extracts the scope from the context. Fail-closed:
// a context without a scope returns ErrMissingScope.
func ScopeFromContext(ctx context.Context) (Scope, error) {
	scope, ok := ctx.Value(scopeCtxKey{}).(Scope)
	if !ok {
		return Scope{}, ErrMissingScope
	}
	return scope, nil
}

// IsReservedField reports whether a payload field name is owned by scope
// enforcement.
func IsReservedField(name string) bool {
	return name == FieldWorkspace || name == FieldAgent
}
