/*
Package storage provides BoltDB-backed persistence for the control plane's
entities: nodes, workloads, templates, access grants, roles, IP pools, and
the append-only log/audit/backup records.

Each entity lives in its own bucket, keyed by id and JSON-marshaled.
Mutating Store methods run inside a single bbolt write transaction, which
bbolt serializes process-wide — this is what keeps capacity counters and IP
pool allocation free of lost updates without a separate locking layer.
Composite keys (workload logs, audit logs, IP pools) embed the owning
entity's id as a prefix so a range scan answers "all entries for X".
*/
package storage
