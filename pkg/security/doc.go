// Package security provides the control plane's cryptographic primitives:
// pre-shared agent key hashing (HashAgentKey/VerifyAgentKey), opaque SFTP
// session tokens (TokenManager), and the persisted SSH host key used by the
// SFTP surface (LoadOrGenerateSSHHostKey).
package security
