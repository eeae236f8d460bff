package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const sftpHostKeyBits = 2048

// LoadOrGenerateSSHHostKey loads the RSA host key at path, generating and
// persisting a fresh 2048-bit key if the file is missing (spec section
// 4.7: "one persisted RSA key per control-plane instance").
func LoadOrGenerateSSHHostKey(path string) (ssh.Signer, error) {
	if data, err := os.ReadFile(path); err == nil {
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parse host key %s: %w", path, err)
		}
		return signer, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read host key %s: %w", path, err)
	}

	key, err := rsa.GenerateKey(rand.Reader, sftpHostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}

	pemBlock := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create host key directory: %w", err)
		}
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(pemBlock), 0600); err != nil {
		return nil, fmt.Errorf("persist host key %s: %w", path, err)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("build signer: %w", err)
	}
	return signer, nil
}
