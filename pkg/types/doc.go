// Package types defines the domain model: nodes, workloads, templates,
// access grants, roles, IP pools, and the append-only log/audit/backup
// records. See pkg/gateway for the wire vocabulary exchanged with agents.
package types
