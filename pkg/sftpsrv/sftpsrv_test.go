package sftpsrv

import (
	"net"
	"testing"
	"time"

	"github.com/catalystlabs/catalyst/pkg/access"
	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/security"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/catalystlabs/catalyst/pkg/types"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

type harness struct {
	addr   string
	store  storage.Store
	tokens *security.TokenManager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	store, err := storage.NewBoltStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := config.Config{
		ServerFilesRoot:        dir + "/servers",
		SFTPHostKeyPath:        dir + "/host_key",
		SFTPIdleTimeoutMinutes: 30,
		SuspensionEnforced:     true,
		SuspensionDeletePolicy: "allow",
	}

	tokens := security.NewTokenManager()
	evaluator := access.New(store, cfg)

	srv, err := New(cfg, store, tokens, evaluator)
	require.NoError(t, err)

	addr := freeAddr(t)
	go srv.Serve(addr)
	t.Cleanup(srv.Stop)

	// Give the listener a moment to bind before the first dial.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return &harness{addr: addr, store: store, tokens: tokens}
}

func (h *harness) createWorkload(t *testing.T, ownerID string) *types.Workload {
	t.Helper()
	w := &types.Workload{ID: "wl-" + ownerID, OwnerID: ownerID, Status: types.StatusRunning}
	require.NoError(t, h.store.CreateWorkload(w))
	return w
}

func (h *harness) dial(t *testing.T, workloadID, token string) *sftp.Client {
	t.Helper()
	sshCfg := &ssh.ClientConfig{
		User:            workloadID,
		Auth:            []ssh.AuthMethod{ssh.Password(token)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}
	conn, err := ssh.Dial("tcp", h.addr, sshCfg)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client, err := sftp.NewClient(conn)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestSFTP_OwnerCanWriteAndReadBack(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkload(t, "alice")
	tok, err := h.tokens.Issue(w.ID, "alice", time.Hour)
	require.NoError(t, err)

	client := h.dial(t, w.ID, tok.Token)

	f, err := client.Create("eula.txt")
	require.NoError(t, err)
	_, err = f.Write([]byte("eula=true"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rf, err := client.Open("eula.txt")
	require.NoError(t, err)
	defer rf.Close()

	buf := make([]byte, 64)
	n, _ := rf.Read(buf)
	require.Equal(t, "eula=true", string(buf[:n]))
}

func TestSFTP_ListDirectory(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkload(t, "alice")
	tok, err := h.tokens.Issue(w.ID, "alice", time.Hour)
	require.NoError(t, err)

	client := h.dial(t, w.ID, tok.Token)

	require.NoError(t, client.Mkdir("plugins"))
	f, err := client.Create("plugins/a.jar")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := client.ReadDir("plugins")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a.jar", entries[0].Name())
}

func TestSFTP_InvalidTokenRejected(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkload(t, "alice")

	sshCfg := &ssh.ClientConfig{
		User:            w.ID,
		Auth:            []ssh.AuthMethod{ssh.Password("bogus-token")},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}
	_, err := ssh.Dial("tcp", h.addr, sshCfg)
	require.Error(t, err)
}

func TestSFTP_NonOwnerWithoutGrantRejectedAtAuth(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkload(t, "alice")
	tok, err := h.tokens.Issue(w.ID, "mallory", time.Hour)
	require.NoError(t, err)

	sshCfg := &ssh.ClientConfig{
		User:            w.ID,
		Auth:            []ssh.AuthMethod{ssh.Password(tok.Token)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         2 * time.Second,
	}
	_, err = ssh.Dial("tcp", h.addr, sshCfg)
	require.Error(t, err)
}

func TestSFTP_OwnerCanRemoveFile(t *testing.T) {
	h := newHarness(t)
	w := h.createWorkload(t, "alice")
	tok, err := h.tokens.Issue(w.ID, "alice", time.Hour)
	require.NoError(t, err)

	client := h.dial(t, w.ID, tok.Token)

	f, err := client.Create("old.txt")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, client.Remove("old.txt"))
	_, err = client.Stat("old.txt")
	require.Error(t, err)
}
