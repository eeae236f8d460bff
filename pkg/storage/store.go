package storage

import "github.com/catalystlabs/catalyst/pkg/types"

// Store is the persistence contract (spec section 3's "Persistence
// interface"). It promises transactional read/write of the entities below;
// BoltStore is the only implementation, but callers should depend on this
// interface so tests can substitute a fake.
type Store interface {
	// Nodes
	CreateNode(node *types.Node) error
	GetNode(id string) (*types.Node, error)
	ListNodes() ([]*types.Node, error)
	UpdateNode(node *types.Node) error
	DeleteNode(id string) error

	// Workloads
	CreateWorkload(w *types.Workload) error
	GetWorkload(id string) (*types.Workload, error)
	ListWorkloads() ([]*types.Workload, error)
	ListWorkloadsByNode(nodeID string) ([]*types.Workload, error)
	UpdateWorkload(w *types.Workload) error
	DeleteWorkload(id string) error

	// Templates
	CreateTemplate(t *types.Template) error
	GetTemplate(id string) (*types.Template, error)
	ListTemplates() ([]*types.Template, error)
	UpdateTemplate(t *types.Template) error
	DeleteTemplate(id string) error

	// WorkloadAccess
	CreateWorkloadAccess(a *types.WorkloadAccess) error
	ListWorkloadAccess(workloadID string) ([]*types.WorkloadAccess, error)
	ListWorkloadAccessByPrincipal(principalID string) ([]*types.WorkloadAccess, error)
	DeleteWorkloadAccess(id string) error

	// Roles
	CreateRole(r *types.Role) error
	GetRole(id string) (*types.Role, error)
	ListRoles() ([]*types.Role, error)
	DeleteRole(id string) error

	// IPPools
	GetIPPool(nodeID, networkName string) (*types.IPPool, error)
	PutIPPool(pool *types.IPPool) error
	ListIPPools() ([]*types.IPPool, error)

	// WorkloadLog (append-only)
	AppendWorkloadLog(entry *types.WorkloadLog) error
	ListWorkloadLogs(workloadID string, limit int) ([]*types.WorkloadLog, error)

	// AuditLog (append-only)
	AppendAuditLog(entry *types.AuditLog) error
	ListAuditLogs(resourceID string, limit int) ([]*types.AuditLog, error)

	// Backups
	CreateBackup(b *types.Backup) error
	GetBackup(id string) (*types.Backup, error)
	ListBackupsByWorkload(workloadID string) ([]*types.Backup, error)
	UpdateBackup(b *types.Backup) error

	Close() error
}
