package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketNodes          = []byte("nodes")
	bucketWorkloads      = []byte("workloads")
	bucketTemplates      = []byte("templates")
	bucketWorkloadAccess = []byte("workload_access")
	bucketRoles          = []byte("roles")
	bucketIPPools        = []byte("ip_pools")
	bucketWorkloadLogs   = []byte("workload_logs")
	bucketAuditLogs      = []byte("audit_logs")
	bucketBackups        = []byte("backups")
)

// BoltStore implements Store on top of a single bbolt file. bbolt admits
// exactly one write transaction at a time process-wide, which is the
// serialization point spec section 5 requires for capacity counters and IP
// pools ("isolation level MUST prevent lost updates"): every mutating
// method below runs inside one db.Update call.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the database file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "catalyst.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketNodes, bucketWorkloads, bucketTemplates, bucketWorkloadAccess,
			bucketRoles, bucketIPPools, bucketWorkloadLogs, bucketAuditLogs,
			bucketBackups,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

func notFound(kind, id string) error {
	return catalysterr.New(catalysterr.NotFound, fmt.Sprintf("%s not found: %s", kind, id))
}

// --- Nodes ---

func (s *BoltStore) CreateNode(node *types.Node) error {
	return s.put(bucketNodes, node.ID, node)
}

func (s *BoltStore) GetNode(id string) (*types.Node, error) {
	var n types.Node
	if err := s.get(bucketNodes, id, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *BoltStore) ListNodes() ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNodes).ForEach(func(_, v []byte) error {
			var n types.Node
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			out = append(out, &n)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateNode(node *types.Node) error { return s.CreateNode(node) }

func (s *BoltStore) DeleteNode(id string) error { return s.delete(bucketNodes, id) }

// --- Workloads ---

func (s *BoltStore) CreateWorkload(w *types.Workload) error {
	return s.put(bucketWorkloads, w.ID, w)
}

func (s *BoltStore) GetWorkload(id string) (*types.Workload, error) {
	var w types.Workload
	if err := s.get(bucketWorkloads, id, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *BoltStore) ListWorkloads() ([]*types.Workload, error) {
	var out []*types.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloads).ForEach(func(_, v []byte) error {
			var w types.Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return err
			}
			out = append(out, &w)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListWorkloadsByNode(nodeID string) ([]*types.Workload, error) {
	all, err := s.ListWorkloads()
	if err != nil {
		return nil, err
	}
	var out []*types.Workload
	for _, w := range all {
		if w.NodeID == nodeID {
			out = append(out, w)
		}
	}
	return out, nil
}

func (s *BoltStore) UpdateWorkload(w *types.Workload) error { return s.CreateWorkload(w) }

func (s *BoltStore) DeleteWorkload(id string) error { return s.delete(bucketWorkloads, id) }

// --- Templates ---

func (s *BoltStore) CreateTemplate(t *types.Template) error {
	return s.put(bucketTemplates, t.ID, t)
}

func (s *BoltStore) GetTemplate(id string) (*types.Template, error) {
	var t types.Template
	if err := s.get(bucketTemplates, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *BoltStore) ListTemplates() ([]*types.Template, error) {
	var out []*types.Template
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTemplates).ForEach(func(_, v []byte) error {
			var t types.Template
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			out = append(out, &t)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateTemplate(t *types.Template) error { return s.CreateTemplate(t) }

func (s *BoltStore) DeleteTemplate(id string) error { return s.delete(bucketTemplates, id) }

// --- WorkloadAccess ---

func (s *BoltStore) CreateWorkloadAccess(a *types.WorkloadAccess) error {
	return s.put(bucketWorkloadAccess, a.ID, a)
}

func (s *BoltStore) ListWorkloadAccess(workloadID string) ([]*types.WorkloadAccess, error) {
	all, err := s.listWorkloadAccess()
	if err != nil {
		return nil, err
	}
	var out []*types.WorkloadAccess
	for _, a := range all {
		if a.WorkloadID == workloadID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *BoltStore) ListWorkloadAccessByPrincipal(principalID string) ([]*types.WorkloadAccess, error) {
	all, err := s.listWorkloadAccess()
	if err != nil {
		return nil, err
	}
	var out []*types.WorkloadAccess
	for _, a := range all {
		if a.PrincipalID == principalID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *BoltStore) listWorkloadAccess() ([]*types.WorkloadAccess, error) {
	var out []*types.WorkloadAccess
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkloadAccess).ForEach(func(_, v []byte) error {
			var a types.WorkloadAccess
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			out = append(out, &a)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteWorkloadAccess(id string) error {
	return s.delete(bucketWorkloadAccess, id)
}

// --- Roles ---

func (s *BoltStore) CreateRole(r *types.Role) error { return s.put(bucketRoles, r.ID, r) }

func (s *BoltStore) GetRole(id string) (*types.Role, error) {
	var r types.Role
	if err := s.get(bucketRoles, id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListRoles() ([]*types.Role, error) {
	var out []*types.Role
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).ForEach(func(_, v []byte) error {
			var r types.Role
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteRole(id string) error { return s.delete(bucketRoles, id) }

// --- IPPools ---

func ipPoolKey(nodeID, networkName string) string { return nodeID + "/" + networkName }

func (s *BoltStore) GetIPPool(nodeID, networkName string) (*types.IPPool, error) {
	var p types.IPPool
	if err := s.get(bucketIPPools, ipPoolKey(nodeID, networkName), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) PutIPPool(pool *types.IPPool) error {
	return s.put(bucketIPPools, ipPoolKey(pool.NodeID, pool.NetworkName), pool)
}

func (s *BoltStore) ListIPPools() ([]*types.IPPool, error) {
	var out []*types.IPPool
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIPPools).ForEach(func(_, v []byte) error {
			var p types.IPPool
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

// --- WorkloadLog ---

func (s *BoltStore) AppendWorkloadLog(entry *types.WorkloadLog) error {
	return s.put(bucketWorkloadLogs, entry.WorkloadID+"/"+entry.ID, entry)
}

func (s *BoltStore) ListWorkloadLogs(workloadID string, limit int) ([]*types.WorkloadLog, error) {
	var out []*types.WorkloadLog
	prefix := []byte(workloadID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketWorkloadLogs).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e types.WorkloadLog
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}

// --- AuditLog ---

func (s *BoltStore) AppendAuditLog(entry *types.AuditLog) error {
	return s.put(bucketAuditLogs, entry.ResourceID+"/"+entry.ID, entry)
}

func (s *BoltStore) ListAuditLogs(resourceID string, limit int) ([]*types.AuditLog, error) {
	var out []*types.AuditLog
	prefix := []byte(resourceID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAuditLogs).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e types.AuditLog
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, &e)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, err
}

// --- Backups ---

func (s *BoltStore) CreateBackup(b *types.Backup) error { return s.put(bucketBackups, b.ID, b) }

func (s *BoltStore) GetBackup(id string) (*types.Backup, error) {
	var b types.Backup
	if err := s.get(bucketBackups, id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) ListBackupsByWorkload(workloadID string) ([]*types.Backup, error) {
	var out []*types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).ForEach(func(_, v []byte) error {
			var b types.Backup
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			if b.WorkloadID == workloadID {
				out = append(out, &b)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UpdateBackup(b *types.Backup) error { return s.CreateBackup(b) }

// --- generic helpers ---

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, out interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return notFound(string(bucket), key)
		}
		return json.Unmarshal(data, out)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
