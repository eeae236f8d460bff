// Package transfer implements the transfer coordinator (spec section 4.5):
// moving a stopped workload from its current node to another, via a
// create_backup/move-bytes/restore_backup sequence correlated through the
// agent gateway. The waiting strategy for each asynchronous agent step
// (bounded wait on a correlated event, not a fixed delay) is grounded on
// pkg/gateway.SendAndAwait.
package transfer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/catalystlabs/catalyst/pkg/catalysterr"
	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/gateway"
	"github.com/catalystlabs/catalyst/pkg/ipam"
	"github.com/catalystlabs/catalyst/pkg/lifecycle"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/metrics"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// blobChunkSize bounds each read from a staged backup file, and so each
// upload_blob_chunk the gateway sends, to 1 MiB.
const blobChunkSize = 1 << 20

// Coordinator drives one workload transfer at a time to completion,
// composing the gateway, the lifecycle engine, and IPAM.
type Coordinator struct {
	store     storage.Store
	gw        *gateway.Gateway
	lifecycle *lifecycle.Engine
	arbiter   *ipam.Arbiter
	capacity  *ipam.CapacityChecker
	cfg       config.Config
	logger    zerolog.Logger
}

func New(store storage.Store, gw *gateway.Gateway, lc *lifecycle.Engine, arbiter *ipam.Arbiter, capacity *ipam.CapacityChecker, cfg config.Config) *Coordinator {
	return &Coordinator{
		store:     store,
		gw:        gw,
		lifecycle: lc,
		arbiter:   arbiter,
		capacity:  capacity,
		cfg:       cfg,
		logger:    logging.WithComponent("transfer"),
	}
}

// Transfer runs the full section 4.5 workflow for workloadID onto
// targetNodeID. Permission checks ("user holds server.transfer") are the
// caller's responsibility, same as every other lifecycle.Dispatch path.
func (c *Coordinator) Transfer(workloadID, targetNodeID string, mode types.BackupMode) (err error) {
	timer := metrics.NewTimer()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "failed"
		}
		metrics.TransfersTotal.WithLabelValues(outcome).Inc()
		timer.ObserveDuration(metrics.TransferDuration)
	}()

	w, err := c.store.GetWorkload(workloadID)
	if err != nil {
		return err
	}

	if err := c.preflight(w, targetNodeID); err != nil {
		return err
	}

	if err := c.lifecycle.Dispatch(w.ID, lifecycle.OpTransfer); err != nil {
		return catalysterr.Wrap(catalysterr.TransferFailed, "could not start transfer", err)
	}
	c.logSystem(w.ID, "Transfer initiated")

	if runErr := c.run(w, targetNodeID, mode); runErr != nil {
		_ = c.lifecycle.RollbackTransfer(w.ID)
		c.logSystem(w.ID, fmt.Sprintf("transfer failed: %v", runErr))
		return catalysterr.Wrap(catalysterr.TransferFailed, "transfer failed", runErr)
	}
	return nil
}

// preflight enforces spec section 4.5 step 1.
func (c *Coordinator) preflight(w *types.Workload, targetNodeID string) error {
	if w.Status != types.StatusStopped {
		return catalysterr.New(catalysterr.InvalidState, "workload must be stopped to transfer")
	}
	if targetNodeID == w.NodeID {
		return catalysterr.New(catalysterr.ValidationError, "target node must differ from source")
	}

	target, err := c.store.GetNode(targetNodeID)
	if err != nil {
		return err
	}
	if !target.Online || !c.gw.IsOnline(targetNodeID) {
		return catalysterr.New(catalysterr.NodeUnavailable, "target node is not online")
	}

	return c.capacity.Check(targetNodeID, w.ID, ipam.Intent{
		MemoryMB: w.AllocatedMemoryMB,
		CPUCores: w.AllocatedCPUCores,
		DiskMB:   w.AllocatedDiskMB,
	})
}

// run performs steps 3-6, assuming the workload is already "transferring".
func (c *Coordinator) run(w *types.Workload, targetNodeID string, mode types.BackupMode) error {
	wait := time.Duration(c.cfg.TransferBackupTimeoutSeconds) * time.Second

	backupName := fmt.Sprintf("transfer-%d", time.Now().UnixMilli())
	backup := &types.Backup{
		ID:         uuid.New().String(),
		WorkloadID: w.ID,
		Name:       backupName,
		Path:       filepath.Join(c.cfg.BackupsRoot, w.ID, backupName),
		Mode:       mode,
		CreatedAt:  time.Now(),
	}
	if err := c.store.CreateBackup(backup); err != nil {
		return err
	}

	createPayload, err := json.Marshal(gateway.CreateBackupPayload{
		ServerID:   w.ID,
		BackupID:   backup.ID,
		BackupName: backupName,
		Mode:       mode,
	})
	if err != nil {
		return err
	}
	result, err := c.gw.SendAndAwait(w.NodeID, &gateway.Frame{Type: gateway.FrameCreateBackup, Payload: createPayload}, wait)
	if err != nil {
		return err
	}
	var done gateway.BackupCompletePayload
	if err := json.Unmarshal(result.Payload, &done); err != nil {
		return err
	}
	if done.Path != "" {
		backup.Path = done.Path
	}
	backup.SizeMB = done.SizeMiB
	if err := c.store.UpdateBackup(backup); err != nil {
		return err
	}

	if err := c.moveBytes(targetNodeID, backup, mode); err != nil {
		return err
	}

	restorePayload, err := json.Marshal(gateway.RestoreBackupPayload{
		ServerID:   w.ID,
		BackupID:   backup.ID,
		SourcePath: backup.Path,
		Mode:       mode,
	})
	if err != nil {
		return err
	}
	if _, err := c.gw.SendAndAwait(targetNodeID, &gateway.Frame{Type: gateway.FrameRestoreBackup, Payload: restorePayload}, wait); err != nil {
		return err
	}

	return c.switchOwnership(w, targetNodeID)
}

// moveBytes implements spec section 4.5 step 4. local mode assumes shared
// storage and copies nothing; s3 and stream both read the staged artifact
// off the source's local disk and push it to the target over the gateway's
// chunked upload, the only byte-moving transport this control plane owns
// (an actual object-storage client is out of scope — nothing in the
// example pack ships one, and the spec doesn't name a provider).
func (c *Coordinator) moveBytes(targetNodeID string, backup *types.Backup, mode types.BackupMode) error {
	if mode == types.BackupModeLocal {
		return nil
	}

	f, err := os.Open(backup.Path)
	if err != nil {
		return catalysterr.Wrap(catalysterr.TransferFailed, "could not open staged backup", err)
	}
	defer f.Close()

	chunks := make(chan []byte)
	streamErr := make(chan error, 1)
	go func() { streamErr <- c.gw.Stream(targetNodeID, backup.Path, chunks) }()

	buf := make([]byte, blobChunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			close(chunks)
			<-streamErr
			return catalysterr.Wrap(catalysterr.TransferFailed, "reading staged backup", readErr)
		}
	}
	close(chunks)
	return <-streamErr
}

// switchOwnership implements spec section 4.5 step 6.
func (c *Coordinator) switchOwnership(w *types.Workload, targetNodeID string) error {
	var newIP string
	if w.NetworkMode.IsIPAM() {
		if err := c.arbiter.Release(w.ID); err != nil {
			return err
		}
		ip, err := c.arbiter.Allocate(targetNodeID, w.NetworkName, w.ID, "")
		if err != nil {
			return err
		}
		newIP = ip
	}
	return c.lifecycle.CompleteTransfer(w.ID, targetNodeID, newIP)
}

func (c *Coordinator) logSystem(workloadID, text string) {
	_ = c.store.AppendWorkloadLog(&types.WorkloadLog{
		ID:         uuid.New().String(),
		WorkloadID: workloadID,
		Stream:     types.StreamSystem,
		Text:       text,
		Timestamp:  time.Now(),
	})
}
