package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapbox/hecate-go/internal/errs"
)

func TestValidateRejectsValueOutsideKind(t *testing.T) {
	cfg := &Config{
		Leaves: map[string]Leaf{
			"user::info": {Path: "user::info", Kind: KindSelf, Value: ValuePublic},
		},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user::info must be one of 'self', 'admin', or 'disabled'")
}

func TestValidateAcceptsValueWithinKind(t *testing.T) {
	cfg := &Config{
		Leaves: map[string]Leaf{
			"feature::create": {Path: "feature::create", Kind: KindAuth, Value: ValueUser},
		},
	}
	require.NoError(t, cfg.Validate())
}

func TestEvaluateDisabledAccountAlwaysRejected(t *testing.T) {
	cfg := &Config{Leaves: map[string]Leaf{
		"feature::read": {Kind: KindAll, Value: ValuePublic},
	}}
	err := cfg.Evaluate("feature::read", RWRead, Identity{Authenticated: true, Access: AccessDisabled})
	require.Error(t, err)
	assert.Equal(t, "Account disabled", errs.As(err).Public)
}

func TestEvaluateReadTokenRejectedOnFullEndpoint(t *testing.T) {
	cfg := &Config{Leaves: map[string]Leaf{
		"feature::create": {Kind: KindAuth, Value: ValueUser},
	}}
	err := cfg.Evaluate("feature::create", RWFull, Identity{Authenticated: true, TokenScope: TokenRead})
	require.Error(t, err)
}

func TestEvaluatePublicAllowsAnonymous(t *testing.T) {
	cfg := &Config{Leaves: map[string]Leaf{
		"feature::read": {Kind: KindAll, Value: ValuePublic},
	}}
	require.NoError(t, cfg.Evaluate("feature::read", RWRead, Identity{}))
}

func TestEvaluateAdminRequiresAdminAccess(t *testing.T) {
	cfg := &Config{Leaves: map[string]Leaf{
		"meta::set": {Kind: KindAll, Value: ValueAdmin},
	}}
	err := cfg.Evaluate("meta::set", RWFull, Identity{Authenticated: true, Access: AccessDefault})
	require.Error(t, err)

	require.NoError(t, cfg.Evaluate("meta::set", RWFull, Identity{Authenticated: true, Access: AccessAdmin}))
}

func TestEffectiveScopeDefaultUserElevatesPublic(t *testing.T) {
	cfg := &Config{
		Default: ValueUser,
		Leaves: map[string]Leaf{
			"feature::read": {Kind: KindAll, Value: ValuePublic},
		},
	}
	err := cfg.Evaluate("feature::read", RWRead, Identity{})
	require.Error(t, err)
}
