package build

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"golang.org/x/crypto/ssh"
)

const deployKeyBits = 4096

// DeployKeyPair is an RSA key pair registered with the git host to permit
// read-only clones of a student repository.
type DeployKeyPair struct {
	PublicKey   string
	PrivateKey  string
	Fingerprint string
}

// GenerateDeployKeyPair creates a 4096-bit RSA pair: the private key in PEM
// form (stored on the BuildConfig and mounted into build jobs), the public
// key in OpenSSH authorized_keys form and its SHA256 fingerprint.
func GenerateDeployKeyPair() (*DeployKeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, deployKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	publicKey, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive SSH public key: %w", err)
	}

	return &DeployKeyPair{
		PublicKey:   string(ssh.MarshalAuthorizedKey(publicKey)),
		PrivateKey:  string(privatePEM),
		Fingerprint: ssh.FingerprintSHA256(publicKey),
	}, nil
}
