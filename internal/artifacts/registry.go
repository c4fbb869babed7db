// Package artifacts brokers access to artifacts referenced from tasks. The hub
// never stores artifact bytes; it tracks who may read an artifact and issues
// short-lived download tickets against an external registry.
package artifacts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/caephub/caephub/internal/common/errors"
)

// Ticket is a single-use download grant for one artifact.
type Ticket struct {
	ArtifactID string `json:"artifact_id"`
	URL        string `json:"url"`
	ExpiresAt  int64  `json:"expires_at"` // epoch ms
}

// Info describes the stored state of an artifact for handoff packets.
type Info struct {
	ArtifactID string `json:"artifact_id"`
	SizeBytes  int64  `json:"size_bytes"`
	Digest     string `json:"digest,omitempty"`
	Ready      bool   `json:"ready"`
}

// Registry resolves artifact ids to access decisions and download tickets.
type Registry interface {
	// Exists reports whether the artifact is known to the registry.
	Exists(ctx context.Context, artifactID string) bool

	// CanAccess reports whether agentID may read artifactID.
	CanAccess(ctx context.Context, artifactID, agentID string) bool

	// Grant adds agentID to the artifact's allow-list. Granting never
	// narrows access: an unrestricted artifact stays unrestricted.
	Grant(ctx context.Context, artifactID, agentID string)

	// Stat returns the artifact's stored state, or nil when unknown.
	Stat(ctx context.Context, artifactID string) *Info

	// IssueTicket returns a fresh download ticket for artifactID, or
	// ARTIFACT_ACCESS_DENIED when agentID may not read it. ttl <= 0 uses the
	// registry default.
	IssueTicket(ctx context.Context, artifactID, agentID string, ttl time.Duration) (*Ticket, error)
}

const defaultTicketTTL = 15 * time.Minute

type localArtifact struct {
	info Info
	acl  map[string]bool // empty = unrestricted
}

// LocalRegistry is an in-process Registry backed by a map, used for unified
// deployments and tests.
type LocalRegistry struct {
	mu        sync.RWMutex
	baseURL   string
	artifacts map[string]*localArtifact
}

// NewLocalRegistry creates a registry issuing tickets under baseURL.
func NewLocalRegistry(baseURL string) *LocalRegistry {
	return &LocalRegistry{
		baseURL:   baseURL,
		artifacts: make(map[string]*localArtifact),
	}
}

// Register records an artifact. allowed lists the agents that may read it;
// empty means unrestricted.
func (r *LocalRegistry) Register(artifactID string, sizeBytes int64, digest string, allowed ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acl := make(map[string]bool, len(allowed))
	for _, id := range allowed {
		acl[id] = true
	}
	r.artifacts[artifactID] = &localArtifact{
		info: Info{ArtifactID: artifactID, SizeBytes: sizeBytes, Digest: digest, Ready: true},
		acl:  acl,
	}
}

// Exists implements Registry.
func (r *LocalRegistry) Exists(_ context.Context, artifactID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.artifacts[artifactID]
	return ok
}

// CanAccess implements Registry.
func (r *LocalRegistry) CanAccess(_ context.Context, artifactID, agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	art, ok := r.artifacts[artifactID]
	if !ok {
		return false
	}
	return len(art.acl) == 0 || art.acl[agentID]
}

// Grant implements Registry.
func (r *LocalRegistry) Grant(_ context.Context, artifactID, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	art, ok := r.artifacts[artifactID]
	if !ok {
		return
	}
	// An empty ACL means everyone may read; adding an entry would flip the
	// artifact to restricted and revoke every other agent.
	if len(art.acl) == 0 {
		return
	}
	art.acl[agentID] = true
}

// Stat implements Registry.
func (r *LocalRegistry) Stat(_ context.Context, artifactID string) *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	art, ok := r.artifacts[artifactID]
	if !ok {
		return nil
	}
	info := art.info
	return &info
}

// IssueTicket implements Registry.
func (r *LocalRegistry) IssueTicket(ctx context.Context, artifactID, agentID string, ttl time.Duration) (*Ticket, error) {
	if !r.Exists(ctx, artifactID) {
		return nil, apperrors.NotFound("artifact", artifactID)
	}
	if !r.CanAccess(ctx, artifactID, agentID) {
		return nil, apperrors.ArtifactAccessDenied(artifactID, agentID)
	}
	if ttl <= 0 {
		ttl = defaultTicketTTL
	}
	return &Ticket{
		ArtifactID: artifactID,
		URL:        fmt.Sprintf("%s/%s/%s", r.baseURL, artifactID, uuid.New().String()),
		ExpiresAt:  time.Now().Add(ttl).UnixMilli(),
	}, nil
}
