// ABOUTME: Bearer-key authentication mapping tokens to agent identities
// ABOUTME: Keys are stored as HMAC-SHA-256 hashes; agents auto-register on first use

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"github.com/agorai/bridge/internal/store"
)

// Authentication errors
var (
	ErrMissingAPIKey = errors.New("Missing API key")
	ErrInvalidAPIKey = errors.New("Invalid API key")
)

// Identity is the authenticated caller attached to every tool invocation.
type Identity struct {
	AgentID   string
	Name      string
	Clearance store.Clearance
}

// KeySpec describes one configured bearer key and the agent it maps to.
type KeySpec struct {
	Key            string
	Name           string
	Type           string
	Capabilities   []string
	ClearanceLevel store.Clearance
}

// Provider authenticates bearer tokens against a key map built at
// construction. The map is immutable afterwards; lookups are by hash
// equality, so no raw key material is retained.
type Provider struct {
	store  store.Store
	salt   string
	keyMap map[string]store.AgentSpec // hash -> registration spec
	logger *slog.Logger
}

// NewProvider builds a provider from the configured keys. With an empty
// salt, keys are hashed with bare SHA-256 and a warning is logged once.
func NewProvider(s store.Store, salt string, keys []KeySpec, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	if salt == "" {
		logger.Warn("no auth salt configured; hashing API keys with bare SHA-256")
	}

	keyMap := make(map[string]store.AgentSpec, len(keys))
	for _, k := range keys {
		clearance := k.ClearanceLevel
		if !clearance.Valid() {
			clearance = store.ClearanceTeam
		}
		keyMap[HashKey(salt, k.Key)] = store.AgentSpec{
			Name:           k.Name,
			Type:           k.Type,
			Capabilities:   k.Capabilities,
			ClearanceLevel: clearance,
			APIKeyHash:     HashKey(salt, k.Key),
		}
	}

	return &Provider{
		store:  s,
		salt:   salt,
		keyMap: keyMap,
		logger: logger,
	}
}

// HashKey produces the stored hash for a bearer key. With a salt it is
// HMAC-SHA-256(salt, key); without, bare SHA-256(key).
func HashKey(salt, key string) string {
	if salt == "" {
		sum := sha256.Sum256([]byte(key))
		return hex.EncodeToString(sum[:])
	}
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Authenticate maps a bearer token to an agent identity. On a known key the
// corresponding agent is upserted and its last_seen bumped. Comparison is a
// hash-equality map lookup, so no timing side channel leaks key bytes.
func (p *Provider) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingAPIKey
	}

	spec, ok := p.keyMap[HashKey(p.salt, token)]
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	agent, err := p.store.RegisterAgent(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("registering agent: %w", err)
	}

	if err := p.store.UpdateAgentLastSeen(ctx, agent.ID); err != nil {
		p.logger.Warn("failed to update last_seen", "agent_id", agent.ID, "error", err)
	}

	return &Identity{
		AgentID:   agent.ID,
		Name:      agent.Name,
		Clearance: agent.ClearanceLevel,
	}, nil
}

// HashFor returns the stored hash for a raw key using the provider's salt.
// Used by local agent loops that resolve their identity without a session.
func (p *Provider) HashFor(key string) string {
	return HashKey(p.salt, key)
}
