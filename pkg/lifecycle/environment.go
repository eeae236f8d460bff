package lifecycle

import (
	"encoding/json"
	"path/filepath"

	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/gateway"
	"github.com/catalystlabs/catalyst/pkg/types"
)

// ComposeEnvironment builds the environment an agent sees before every
// install/start/restart, per spec section 3's invariant:
//
//	template.defaults ⊕ workload.environment ⊕ {SERVER_DIR, CATALYST_NETWORK_IP}
//
// workload.environment wins over template defaults; the two computed keys
// always win, overriding anything either side set for them.
func ComposeEnvironment(tmpl *types.Template, w *types.Workload, cfg config.Config) map[string]string {
	env := make(map[string]string, len(tmpl.Variables)+len(w.Environment)+2)

	for _, v := range tmpl.Variables {
		if v.Default != "" {
			env[v.Name] = v.Default
		}
	}
	for k, v := range w.Environment {
		env[k] = v
	}

	env["SERVER_DIR"] = filepath.Join(cfg.ServerDataPath, w.UUID)
	if w.PrimaryIP != "" {
		env["CATALYST_NETWORK_IP"] = w.PrimaryIP
	}

	return env
}

// buildCommandFrame assembles the wire payload every command carries
// (spec section 4.1) for workload w against template tmpl. env carries the
// environment to send on the wire; it is never w.Environment directly for
// install/start, since those composite in SERVER_DIR/CATALYST_NETWORK_IP
// without persisting them back onto the workload (see ComposeEnvironment).
func buildCommandFrame(frameType gateway.FrameType, tmpl *types.Template, w *types.Workload, env map[string]string) (*gateway.Frame, error) {
	tmplJSON, err := json.Marshal(tmpl)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(gateway.CommandPayload{
		ServerID:     w.ID,
		ServerUUID:   w.UUID,
		Template:     tmplJSON,
		Environment:  env,
		MemoryMB:     w.AllocatedMemoryMB,
		CPUCores:     w.AllocatedCPUCores,
		DiskMB:       w.AllocatedDiskMB,
		PrimaryPort:  w.PrimaryPort,
		PortBindings: w.PortBindings,
		NetworkMode:  string(w.NetworkMode),
	})
	if err != nil {
		return nil, err
	}

	return &gateway.Frame{Type: frameType, Payload: payload}, nil
}
