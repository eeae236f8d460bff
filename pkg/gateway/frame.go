package gateway

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/catalystlabs/catalyst/pkg/types"
)

// maxFrameSize bounds a single length-delimited frame. Blob chunks are
// capped at 1 MiB by the caller (see Stream), so anything larger than a
// few MiB here indicates a corrupt stream rather than a legitimate frame.
const maxFrameSize = 8 << 20

// FrameType is the wire token every frame carries, matching the command
// and event vocabularies agents recognize.
type FrameType string

const (
	// Control-plane-originated commands.
	FrameInstallServer  FrameType = "install_server"
	FrameStartServer    FrameType = "start_server"
	FrameStopServer     FrameType = "stop_server"
	FrameRestartServer  FrameType = "restart_server"
	FrameResizeStorage  FrameType = "resize_storage"
	FrameCreateBackup   FrameType = "create_backup"
	FrameRestoreBackup  FrameType = "restore_backup"
	FrameUploadBlobChunk FrameType = "upload_blob_chunk"
	FrameCancel         FrameType = "cancel"

	// Agent-originated events.
	FrameStatusUpdate    FrameType = "status_update"
	FrameLog             FrameType = "log"
	FrameMetrics         FrameType = "metrics"
	FrameBackupComplete  FrameType = "backup_complete"
	FrameRestoreComplete FrameType = "restore_complete"
	FrameNodeHeartbeat   FrameType = "node_heartbeat"
)

// Frame is the envelope exchanged over a session. CorrelationID is set by
// the control plane on commands it expects a terminal ack for; agents echo
// it back on the event that resolves the call, when one exists.
type Frame struct {
	Type          FrameType       `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// CommandPayload carries the fields every workload command needs. Not
// every command uses every field; agents ignore what doesn't apply.
type CommandPayload struct {
	ServerID     string            `json:"serverId"`
	ServerUUID   string            `json:"serverUuid"`
	Template     json.RawMessage   `json:"template,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	MemoryMB     int64             `json:"memoryMB,omitempty"`
	CPUCores     float64           `json:"cpuCores,omitempty"`
	DiskMB       int64             `json:"diskMB,omitempty"`
	PrimaryPort  int               `json:"primaryPort,omitempty"`
	PortBindings map[int]int       `json:"portBindings,omitempty"`
	NetworkMode  string            `json:"networkMode,omitempty"`
}

// BlobChunkPayload is one ordered piece of a streamed backup transfer.
// An empty Data with EOS true terminates the stream.
type BlobChunkPayload struct {
	TargetPath string `json:"targetPath"`
	Offset     int64  `json:"offset"`
	Data       []byte `json:"data,omitempty"`
	EOS        bool   `json:"eos"`
}

// StatusUpdatePayload reports a workload's observed lifecycle state.
type StatusUpdatePayload struct {
	ServerID    string `json:"serverId"`
	NewStatus   string `json:"newStatus"`
	ContainerID string `json:"containerId,omitempty"`
}

// LogPayload carries one line of workload process output.
type LogPayload struct {
	ServerID string `json:"serverId"`
	Stream   string `json:"stream"`
	Line     string `json:"line"`
}

// MetricsPayload is a point-in-time resource sample.
type MetricsPayload struct {
	ServerID  string  `json:"serverId"`
	CPUPct    float64 `json:"cpuPct"`
	MemMiB    int64   `json:"memMiB"`
	DiskMiB   int64   `json:"diskMiB"`
	Timestamp int64   `json:"timestamp"`
}

// CreateBackupPayload requests a source agent snapshot a workload's data
// directory under a deterministic name (spec section 4.5 step 3).
type CreateBackupPayload struct {
	ServerID   string           `json:"serverId"`
	BackupID   string           `json:"backupId"`
	BackupName string           `json:"backupName"`
	Mode       types.BackupMode `json:"mode"`
}

// RestoreBackupPayload requests a target agent materialize a backup
// artifact already staged at SourcePath (spec section 4.5 step 5).
type RestoreBackupPayload struct {
	ServerID   string           `json:"serverId"`
	BackupID   string           `json:"backupId"`
	SourcePath string           `json:"sourcePath"`
	Mode       types.BackupMode `json:"mode"`
}

// BackupCompletePayload reports a finished create_backup command.
type BackupCompletePayload struct {
	ServerID string `json:"serverId"`
	BackupID string `json:"backupId"`
	Path     string `json:"path"`
	SizeMiB  int64  `json:"sizeMiB"`
}

// RestoreCompletePayload reports a finished restore_backup command.
type RestoreCompletePayload struct {
	ServerID string `json:"serverId"`
	BackupID string `json:"backupId"`
	OK       bool   `json:"ok"`
	Err      string `json:"err,omitempty"`
}

// writeFrame writes a length-delimited frame: a 4-byte big-endian length
// prefix followed by the JSON-encoded Frame.
func writeFrame(w io.Writer, f *Frame) error {
	body, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if len(body) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds max %d", len(body), maxFrameSize)
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-delimited frame from r.
func readFrame(r io.Reader) (*Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds max %d", n, maxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("unmarshal frame: %w", err)
	}
	return &f, nil
}
