// ABOUTME: Tests for bearer-key authentication and key hashing

package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agorai/bridge/internal/store"
)

func newTestProvider(t *testing.T, salt string, keys []KeySpec) (*Provider, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewProvider(s, salt, keys, nil), s
}

func TestHashKeyDeterministic(t *testing.T) {
	assert.Equal(t, HashKey("salt", "key"), HashKey("salt", "key"))
	assert.NotEqual(t, HashKey("salt", "key"), HashKey("other", "key"))
	assert.NotEqual(t, HashKey("salt", "key"), HashKey("salt", "other"))
	// Unsalted hashing still produces a stable value.
	assert.Equal(t, HashKey("", "key"), HashKey("", "key"))
	assert.NotEqual(t, HashKey("", "key"), HashKey("salt", "key"))
}

func TestAuthenticateKnownKey(t *testing.T) {
	p, s := newTestProvider(t, "pepper", []KeySpec{
		{Key: "sk-alice", Name: "alice", Type: "model", ClearanceLevel: store.ClearanceConfidential},
	})
	ctx := context.Background()

	identity, err := p.Authenticate(ctx, "sk-alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.Name)
	assert.Equal(t, store.ClearanceConfidential, identity.Clearance)
	assert.NotEmpty(t, identity.AgentID)

	// The agent row was upserted with the hashed key.
	agent, err := s.GetAgent(ctx, identity.AgentID)
	require.NoError(t, err)
	assert.Equal(t, HashKey("pepper", "sk-alice"), agent.APIKeyHash)

	// Authenticating again yields the same agent.
	again, err := p.Authenticate(ctx, "sk-alice")
	require.NoError(t, err)
	assert.Equal(t, identity.AgentID, again.AgentID)
}

func TestAuthenticateErrors(t *testing.T) {
	p, _ := newTestProvider(t, "pepper", []KeySpec{{Key: "sk-alice", Name: "alice"}})

	_, err := p.Authenticate(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = p.Authenticate(context.Background(), "sk-wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)
}

func TestClearanceDefaultsToTeam(t *testing.T) {
	p, _ := newTestProvider(t, "", []KeySpec{{Key: "sk-bob", Name: "bob", ClearanceLevel: "superuser"}})

	identity, err := p.Authenticate(context.Background(), "sk-bob")
	require.NoError(t, err)
	assert.Equal(t, store.ClearanceTeam, identity.Clearance)
}

func TestHashFor(t *testing.T) {
	p, _ := newTestProvider(t, "pepper", nil)
	assert.Equal(t, HashKey("pepper", "k"), p.HashFor("k"))
}
