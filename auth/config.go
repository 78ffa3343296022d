package auth

import (
	"time"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

const (
	DefaultHost          = "localhost"
	DefaultPort          = 22
	DefaultTimeout       = time.Second * 10
	DefaultClientVersion = "OpenSSH_9.8p1"
)

// Probe stages, in the order a successful login passes through them
const (
	StageInit        = "init"
	StageConnect     = "connect"
	StageKex         = "kex"
	StageUserAuth    = "ssh-userauth"
	StageAuth        = "auth"
	StageCredentials = "credentials"
)

// Authentication method names as sent on the wire
const (
	MethodPublicKey = "publickey"
	MethodPassword  = "password"
	MethodKeyboard  = "keyboard-interactive"
)

var (
	HostKeyAlgorithmsRSA = []string{
		ssh.KeyAlgoRSASHA512,
		ssh.KeyAlgoRSASHA256,
		ssh.CertAlgoRSAv01,
		ssh.KeyAlgoRSA,
	}

	HostKeyAlgorithmsECDSA = []string{
		ssh.KeyAlgoECDSA256,
		ssh.KeyAlgoECDSA384,
		ssh.KeyAlgoECDSA521,
		ssh.CertAlgoECDSA256v01,
		ssh.CertAlgoECDSA384v01,
		ssh.CertAlgoECDSA521v01,
	}

	HostKeyAlgorithmsED25519 = []string{
		ssh.KeyAlgoED25519,
		ssh.CertAlgoED25519v01,
	}

	// HostKeyTypeMap restricts the host key algorithms offered to a server
	// by key family. An empty selection leaves the library defaults in place.
	HostKeyTypeMap = map[string][]string{
		"rsa":     HostKeyAlgorithmsRSA,
		"ecdsa":   HostKeyAlgorithmsECDSA,
		"ed25519": HostKeyAlgorithmsED25519,
	}
)
