// Package access implements the permission evaluator of spec section 4.3:
// a pure decision function over a principal, a workload, and a required
// permission token. It never mutates state; it only answers allow/deny with
// an attached catalysterr.Kind on deny. No pack library does ad-hoc ACL
// evaluation at this granularity, so this stays on plain Go and the
// existing storage/types/catalysterr packages this module already owns.
package access

import (
	"strings"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
)

// Well-known permission tokens that receive special handling during
// suspension gating. Every other token is an opaque string compared
// literally or against "*"/"admin.read".
const (
	PermissionUnsuspend = "server.unsuspend"
	PermissionDelete    = "server.delete"

	permissionAdminRead = "admin.read"
	permissionWildcard  = "*"
)

// Evaluator answers permission checks against a Store's WorkloadAccess and
// Role tables.
type Evaluator struct {
	store storage.Store
	cfg   config.Config
}

func New(store storage.Store, cfg config.Config) *Evaluator {
	return &Evaluator{store: store, cfg: cfg}
}

// Check reports whether principalID may exercise permission on workload w.
// A nil return means allowed; otherwise the returned *catalysterr.Error
// carries Locked (suspension gating) or Forbidden (no grant found).
func (e *Evaluator) Check(principalID string, w *types.Workload, permission string) error {
	isOwner := principalID == w.OwnerID

	if w.Status == types.StatusSuspended && e.cfg.SuspensionEnforced {
		if err := e.checkSuspensionGate(permission, isOwner); err != nil {
			return err
		}
	}

	if isOwner {
		return nil
	}

	grants, err := e.store.ListWorkloadAccess(w.ID)
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "listing workload access", err)
	}
	for _, g := range grants {
		if g.PrincipalID != principalID {
			continue
		}
		if containsAny(g.Permissions, permission, permissionWildcard) {
			return nil
		}
	}

	roles, err := e.store.ListRoles()
	if err != nil {
		return catalysterr.Wrap(catalysterr.Internal, "listing roles", err)
	}
	isReadScope := strings.HasSuffix(permission, ".read")
	for _, r := range roles {
		if !containsString(r.PrincipalIDs, principalID) {
			continue
		}
		if containsAny(r.Permissions, permission, permissionWildcard) {
			return nil
		}
		if isReadScope && containsString(r.Permissions, permissionAdminRead) {
			return nil
		}
	}

	return catalysterr.New(catalysterr.Forbidden, "principal lacks permission "+permission)
}

// checkSuspensionGate implements spec section 4.3's suspension-gating rule.
// unsuspend always passes through to the normal decision order. delete is
// allowed through only when SUSPENSION_DELETE_POLICY isn't "block" and the
// principal is the owner; every other operation is Locked outright.
func (e *Evaluator) checkSuspensionGate(permission string, isOwner bool) error {
	switch permission {
	case PermissionUnsuspend:
		return nil
	case PermissionDelete:
		if e.cfg.SuspensionDeletePolicy == "block" {
			return catalysterr.New(catalysterr.Locked, "workload is suspended; delete is blocked by policy")
		}
		if isOwner {
			return nil
		}
		return catalysterr.New(catalysterr.Locked, "workload is suspended")
	default:
		return catalysterr.New(catalysterr.Locked, "workload is suspended")
	}
}

func containsAny(set []string, targets ...string) bool {
	for _, s := range set {
		for _, t := range targets {
			if s == t {
				return true
			}
		}
	}
	return false
}

func containsString(set []string, target string) bool {
	for _, s := range set {
		if s == target {
			return true
		}
	}
	return false
}
