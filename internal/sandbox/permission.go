package sandbox

import (
	"time"

	"github.com/ehrlich-b/microkernel/internal/logging"
	"github.com/ehrlich-b/microkernel/kernelerr"
)

// Request is one permission check: who, against what, doing what.
type Request struct {
	Pid      uint32
	Resource Resource
	Action   Capability
}

// AuditFunc observes every freshly resolved decision; a decision served
// from the cache is not audited again.
type AuditFunc func(Request, Decision)

// PermissionConfig parameterizes a PermissionManager.
type PermissionConfig struct {
	CacheEntries int
	CacheTTL     time.Duration
	Audit        AuditFunc
	Logger       *logging.Logger
}

// PermissionManager wraps a sandbox Manager with an LRU decision cache
// and an audit hook.
type PermissionManager struct {
	sandboxes *Manager
	cache     *decisionCache
	audit     AuditFunc
	log       *logging.Logger
}

// NewPermissionManager constructs a PermissionManager over sandboxes.
func NewPermissionManager(sandboxes *Manager, cfg PermissionConfig) *PermissionManager {
	return &PermissionManager{
		sandboxes: sandboxes,
		cache:     newDecisionCache(cfg.CacheEntries, cfg.CacheTTL),
		audit:     cfg.Audit,
		log:       cfg.Logger,
	}
}

// Check resolves a Request, consulting the decision cache first.
func (p *PermissionManager) Check(req Request) (Decision, error) {
	key := cacheKey(req.Pid, req.Resource, req.Action)
	if d, ok := p.cache.get(key); ok {
		return d, nil
	}

	decision := p.resolve(req)
	p.cache.set(key, req.Pid, decision)
	if p.audit != nil {
		p.audit(req, decision)
	}
	return decision, nil
}

func (p *PermissionManager) resolve(req Request) Decision {
	cfg, ok := p.sandboxes.Get(req.Pid)
	if !ok {
		return Decision{Allowed: false, Reason: "no sandbox configured for pid"}
	}

	if !cfg.Capabilities.Has(req.Action) {
		return Decision{Allowed: false, Reason: "missing capability"}
	}

	switch req.Resource.Kind {
	case ResourcePath:
		if !cfg.PathRules.Check(req.Resource.Path) {
			return Decision{Allowed: false, Reason: "path rule denied"}
		}
	case ResourceNetwork:
		if !CheckNetwork(cfg.NetworkRules, req.Resource.Host, req.Resource.Port) {
			return Decision{Allowed: false, Reason: "network rule denied"}
		}
	}

	return Decision{Allowed: true, Reason: "capability and rules satisfied"}
}

// InvalidatePid drops every cached decision for pid and should be called
// on capability grant/revoke or sandbox config update.
func (p *PermissionManager) InvalidatePid(pid uint32) {
	p.cache.invalidatePid(pid)
}

// Sandboxes exposes the underlying sandbox Manager for direct config
// mutation (Set/GrantCapability/RevokeCapability), which callers should
// follow with InvalidatePid.
func (p *PermissionManager) Sandboxes() *Manager {
	return p.sandboxes
}

// DeniedError builds the structured PermissionDenied error for a failed
// check, for callers that want to propagate a kernelerr directly.
func DeniedError(op string, pid uint32, reason string) error {
	return kernelerr.NewForPid("sandbox", op, pid, kernelerr.CodePermissionDenied, reason)
}
