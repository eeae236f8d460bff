// Package config loads the process configuration from environment
// variables, per the table in spec section 6. There are few enough knobs
// that a plain struct plus os.Getenv is the right amount of machinery; no
// external config library is warranted.
package config

import (
	"os"
	"strconv"
)

// Config is injected into the gateway, lifecycle engine, and SFTP server at
// startup. No package holds a package-level copy.
type Config struct {
	// ServerDataPath is the root directory for per-workload file trees.
	ServerDataPath string
	// ServerFilesRoot is the SFTP-visible root, analogous to ServerDataPath.
	ServerFilesRoot string
	// BackupsRoot holds one subdirectory per workload id for backup artifacts.
	BackupsRoot string

	// SFTPPort is the SFTP listen port.
	SFTPPort int
	// SFTPHostKeyPath is where the persisted RSA host key lives.
	SFTPHostKeyPath string

	// GatewayPort is the TCP listen port for agent gateway sessions.
	GatewayPort int

	// MetricsPort serves the Prometheus /metrics endpoint.
	MetricsPort int

	// MaxDiskMB is an optional process-wide disk ceiling; 0 means unset.
	MaxDiskMB int64

	// SuspensionEnforced gates suspended-workload operations. Default true.
	SuspensionEnforced bool
	// SuspensionDeletePolicy is "block" or "allow". Default "allow".
	SuspensionDeletePolicy string

	// AllowCrashResetWhileSuspended permits reset-crash-count on a
	// suspended workload. Default true; see DESIGN.md for the rationale.
	AllowCrashResetWhileSuspended bool

	// GatewaySendTimeoutSeconds bounds queue admission for gateway sends.
	GatewaySendTimeoutSeconds int
	// TransferBackupTimeoutSeconds bounds the wait for backup_complete.
	TransferBackupTimeoutSeconds int
	// NodeLivenessWindowSeconds is how long a node may go without a
	// heartbeat before being marked offline.
	NodeLivenessWindowSeconds int
	// SFTPIdleTimeoutMinutes terminates an idle SFTP session.
	SFTPIdleTimeoutMinutes int

	LogLevel      string
	LogJSON       bool
}

// Load populates a Config from the environment, applying spec-mandated
// defaults for anything unset.
func Load() Config {
	return Config{
		ServerDataPath:  getString("SERVER_DATA_PATH", "/tmp/catalyst-servers"),
		ServerFilesRoot: getString("SERVER_FILES_ROOT", "/tmp/catalyst-servers"),
		BackupsRoot:     getString("BACKUPS_ROOT", "/tmp/catalyst-backups"),

		SFTPPort:        getInt("SFTP_PORT", 2022),
		SFTPHostKeyPath: getString("SFTP_HOST_KEY", "/tmp/catalyst-servers/.sftp_host_key"),

		GatewayPort: getInt("GATEWAY_PORT", 7777),
		MetricsPort: getInt("METRICS_PORT", 9090),

		MaxDiskMB: getInt64("MAX_DISK_MB", 0),

		SuspensionEnforced:     getBool("SUSPENSION_ENFORCED", true),
		SuspensionDeletePolicy: getString("SUSPENSION_DELETE_POLICY", "allow"),

		AllowCrashResetWhileSuspended: getBool("ALLOW_CRASH_RESET_WHILE_SUSPENDED", true),

		GatewaySendTimeoutSeconds:    getInt("GATEWAY_SEND_TIMEOUT_SECONDS", 5),
		TransferBackupTimeoutSeconds: getInt("TRANSFER_BACKUP_TIMEOUT_SECONDS", 600),
		NodeLivenessWindowSeconds:    getInt("NODE_LIVENESS_WINDOW_SECONDS", 30),
		SFTPIdleTimeoutMinutes:       getInt("SFTP_IDLE_TIMEOUT_MINUTES", 30),

		LogLevel: getString("LOG_LEVEL", "info"),
		LogJSON:  getBool("LOG_JSON", false),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
