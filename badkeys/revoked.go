package badkeys

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
	"github.com/sirupsen/logrus"
)

const MaxPubKeyLine = 16384

// RevokedRepoBaseID is the repo ID assigned to the first revoked keys file.
// Published badkeys repos use small IDs, so local files count up from here.
const RevokedRepoBaseID = 200

// MaxRevokedFiles is the number of revoked keys files that fit in the
// one-byte repo ID of a block
const MaxRevokedFiles = 256 - RevokedRepoBaseID

// RevokedKey is one entry of an authorized_keys style revocation file
type RevokedKey struct {
	PubKey  ssh.PublicKey
	Comment string
}

// ReadRevokedKeys parses an authorized_keys style file. Blank lines and
// comments are skipped; malformed lines are logged and skipped.
func ReadRevokedKeys(path string, log *logrus.Logger) ([]*RevokedKey, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	res := []*RevokedKey{}
	scan := bufio.NewScanner(fd)
	scan.Buffer(make([]byte, MaxPubKeyLine), MaxPubKeyLine)
	lineNo := 0
	for scan.Scan() {
		lineNo++
		line := strings.TrimSpace(scan.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		bits := strings.Fields(line)
		if len(bits) < 2 {
			log.Errorf("badkeys: %s:%d: bad pubkey line", path, lineNo)
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(bits[1])
		if err != nil {
			log.Errorf("badkeys: %s:%d: bad pubkey line: %v", path, lineNo, err)
			continue
		}
		pubKey, err := ssh.ParsePublicKey(raw)
		if err != nil {
			log.Errorf("badkeys: %s:%d: bad pubkey line: %v", path, lineNo, err)
			continue
		}
		res = append(res, &RevokedKey{
			PubKey:  pubKey,
			Comment: strings.Join(bits[2:], " "),
		})
	}
	if err := scan.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// LoadRevokedKeys adds every key from path to tset under repo id and returns
// the number of keys added
func LoadRevokedKeys(tset *Blocklist, path string, id int, log *logrus.Logger) (int, error) {
	keys, err := ReadRevokedKeys(path, log)
	if err != nil {
		return 0, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	repo := Repo{
		ID:   id,
		Name: filepath.Base(path),
		Type: RepoTypeLocal,
		Repo: abs,
	}
	cnt := 0
	for _, k := range keys {
		prefix, err := PrefixFromPublicKey(k.PubKey)
		if err != nil {
			log.Warnf("badkeys: %s: skipping %s key: %v", path, k.PubKey.Type(), err)
			continue
		}
		if err := tset.Add(prefix, repo, k.Comment); err != nil {
			return cnt, err
		}
		cnt++
	}
	return cnt, nil
}

// PubKeyToString renders pub in authorized_keys form without a comment
func PubKeyToString(pub ssh.PublicKey) string {
	return pub.Type() + " " + base64.StdEncoding.EncodeToString(pub.Marshal())
}
