// Package badkeys flags private keys whose public half appears on the
// badkeys.info blocklist of published, leaked, or weakly generated keys, or
// on a locally maintained list of revoked keys.
package badkeys

import (
	stdecdsa "crypto/ecdsa"
	stded25519 "crypto/ed25519"
	stdrsa "crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/runZeroInc/excrypto/crypto/dsa"
	"github.com/runZeroInc/excrypto/crypto/ecdsa"
	"github.com/runZeroInc/excrypto/crypto/ed25519"
	"github.com/runZeroInc/excrypto/crypto/rsa"
	"github.com/runZeroInc/excrypto/crypto/sha256"
	"github.com/runZeroInc/excrypto/x/crypto/ssh"
)

const BadKeysMetaURL = "https://update.badkeys.info/v0/badkeysdata.json"

// PrefixFromPublicKey implements the badkeys `blocklistmaker` hashing method
func PrefixFromPublicKey(pub any) ([]byte, error) {
	var rawb []byte
	switch pub := pub.(type) {
	case ssh.PublicKey:
		if cpk, ok := pub.(ssh.CryptoPublicKey); ok {
			return PrefixFromPublicKey(cpk.CryptoPublicKey())
		}
		return nil, fmt.Errorf("unsupported ssh public key: %v", pub.Type())
	case *rsa.PublicKey:
		rawb = pub.N.Bytes()
	case *stdrsa.PublicKey:
		rawb = pub.N.Bytes()
	case *ecdsa.PublicKey:
		rawb = pub.X.Bytes()
	case *stdecdsa.PublicKey:
		rawb = pub.X.Bytes()
	case ed25519.PublicKey:
		rawb = pub
	case stded25519.PublicKey:
		rawb = pub
	case *dsa.PublicKey:
		rawb = pub.Y.Bytes()
	case nil:
		return nil, fmt.Errorf("unsupported nil key")
	default:
		return nil, fmt.Errorf("unsupported key: %T", pub)
	}
	sum := sha256.Sum256(rawb)
	return sum[0:BlockHashPrefix], nil
}

// GetExecutableDir returns the full path to the running binary's directory
func GetExecutableDir() string {
	filename, _ := os.Executable()
	filename, _ = filepath.Abs(filename)
	return filepath.Dir(filename)
}

func ReadBadKeysManifest(r io.Reader) (*Meta, error) {
	meta := &Meta{}
	if err := json.NewDecoder(r).Decode(meta); err != nil {
		return meta, fmt.Errorf("decode: %v", err)
	}
	return meta, nil
}
