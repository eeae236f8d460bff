// Package types holds the entities of the data model (spec section 3).
// Entities refer to one another by id; the wire vocabulary exchanged with
// per-node agents lives in pkg/gateway.
package types

import "time"

// Node is a worker host that runs workloads and hosts an agent.
type Node struct {
	ID           string
	Name         string
	Address      string // public network address, host:port
	MaxMemoryMB  int64
	MaxCPUCores  float64
	Online       bool
	LastSeen     time.Time
	AgentKeyHash string // authentication material for the agent session
	CreatedAt    time.Time
}

// NetworkMode selects how a workload's network identity is established.
type NetworkMode string

const (
	NetworkModeBridge        NetworkMode = "bridge"
	NetworkModeMacvlanDHCP   NetworkMode = "macvlan-dhcp"
	NetworkModeMacvlanStatic NetworkMode = "macvlan-static"
)

// IsIPAM reports whether this mode is managed by the IP pool allocator
// rather than host-port arbitration. Only macvlan-static is a true IPAM
// mode; macvlan-dhcp is a misnomer carried over from the source system.
func (m NetworkMode) IsIPAM() bool {
	return m == NetworkModeMacvlanStatic
}

// RestartPolicy controls automatic restart after a crash.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNever     RestartPolicy = "never"
)

// BackupMode selects where transfer/backup artifacts are stored.
type BackupMode string

const (
	BackupModeLocal  BackupMode = "local"
	BackupModeS3     BackupMode = "s3"
	BackupModeStream BackupMode = "stream"
)

// Status is a workload lifecycle state, per spec section 4.4.
type Status string

const (
	StatusStopped      Status = "stopped"
	StatusInstalling   Status = "installing"
	StatusInstalled    Status = "installed"
	StatusStarting     Status = "starting"
	StatusRunning      Status = "running"
	StatusStopping     Status = "stopping"
	StatusCrashed      Status = "crashed"
	StatusSuspended    Status = "suspended"
	StatusTransferring Status = "transferring"
)

// SuspensionMeta is set when a workload is suspended out-of-band.
type SuspensionMeta struct {
	Timestamp time.Time
	Actor     string
	Reason    string
}

// Workload is a single user-owned game-server instance (spec calls it a
// "server"). UUID doubles as its on-disk directory name and SFTP principal.
type Workload struct {
	ID          string
	UUID        string
	Name        string
	Description string
	OwnerID     string
	NodeID      string
	Location    string
	TemplateID  string

	AllocatedMemoryMB int64
	AllocatedCPUCores float64
	AllocatedDiskMB   int64

	NetworkMode  NetworkMode
	NetworkName  string // selects which node-scoped IPPool/port space this workload draws from
	PrimaryPort  int
	PortBindings map[int]int // container-port -> host-port
	PrimaryIP    string      // set only in IPAM modes

	Environment map[string]string

	Status Status

	CrashCount    int
	LastCrashAt   time.Time
	RestartPolicy RestartPolicy
	MaxCrashCount int

	BackupMode     BackupMode
	RetentionCount int
	RetentionDays  int

	Suspension *SuspensionMeta

	ContainerID   string
	ContainerName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InputKind is the UI hint for a template variable.
type InputKind string

const (
	InputKindText     InputKind = "text"
	InputKindCheckbox InputKind = "checkbox"
	InputKindNumber   InputKind = "number"
	InputKindSelect   InputKind = "select"
)

// TemplateVariable is one declared install/startup variable.
type TemplateVariable struct {
	Name        string
	Description string
	Default     string
	Required    bool
	InputKind   InputKind
	Rules       string
}

// StopSignal names the signal sent to stop a workload's process, when no
// stop command is configured.
type StopSignal string

const (
	SignalSIGTERM StopSignal = "SIGTERM"
	SignalSIGINT  StopSignal = "SIGINT"
	SignalSIGKILL StopSignal = "SIGKILL"
)

// StopBehavior describes how to cleanly stop a workload's process.
type StopBehavior struct {
	Command string
	Signal  StopSignal
}

// ImageVariant is an alternate image with a display label.
type ImageVariant struct {
	Label string
	Image string
}

// TemplateFeatures carries miscellaneous template-level metadata that
// doesn't warrant its own entity.
type TemplateFeatures struct {
	IconURL        string
	ConfigFiles    []string
	BackupPaths    []string
	FileEditorMode string
}

// Template is a declarative recipe for provisioning a workload.
type Template struct {
	ID string

	Image           string
	ImageVariants   []ImageVariant
	InstallImage    string
	StartupCommand  string `json:"startup_command"` // contains {{NAME}} substitution tokens
	Stop            StopBehavior
	InstallScript   string
	Variables       []TemplateVariable
	SupportedPorts  []int
	DefaultMemoryMB int64
	DefaultCPUCores float64
	DefaultDiskMB   int64
	Features        TemplateFeatures
}

// WorkloadAccess grants a principal a set of permission tokens on a
// workload. Insertion order is preserved by storage, not by this struct.
type WorkloadAccess struct {
	ID          string
	PrincipalID string
	WorkloadID  string
	Permissions []string
	CreatedAt   time.Time
}

// Role is a named, reusable permission set. "*" is the wildcard,
// "admin.read" grants admin view, "server.suspend" grants suspend.
// PrincipalIDs is the set of principals holding this role; there is no
// separate Principal entity in this model (principal identity, like
// Workload.OwnerID, is owned by the out-of-scope auth layer and referenced
// here only by id).
type Role struct {
	ID           string
	Name         string
	Permissions  []string
	PrincipalIDs []string
}

// IPPool is a per-node, per-network-name address set partitioned into free
// and reserved-to-workload.
type IPPool struct {
	NodeID      string
	NetworkName string
	Free        []string
	Reserved    map[string]string // ip -> workload id
}

// Allocation is a container-port/host-port binding record, kept for
// observability; the authoritative copy lives on Workload.PortBindings.
type Allocation struct {
	WorkloadID    string
	ContainerPort int
	HostPort      int
}

// LogStream identifies the origin of a WorkloadLog entry.
type LogStream string

const (
	StreamStdout LogStream = "stdout"
	StreamStderr LogStream = "stderr"
	StreamSystem LogStream = "system"
)

// WorkloadLog is one append-only log line. System entries record
// control-plane decisions, not agent output.
type WorkloadLog struct {
	ID         string
	WorkloadID string
	Timestamp  time.Time
	Stream     LogStream
	Text       string
}

// AuditLog is an append-only record of a principal's action. No business
// code may mutate or delete an AuditLog row.
type AuditLog struct {
	ID         string
	Timestamp  time.Time
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	Details    string // JSON blob
}

// Backup records a transfer/backup artifact, created before the bytes move
// so crash recovery can locate it.
type Backup struct {
	ID         string
	WorkloadID string
	Name       string
	Path       string // storage path or object key
	Mode       BackupMode
	SizeMB     int64
	Metadata   string // JSON blob
	CreatedAt  time.Time
}
