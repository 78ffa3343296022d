package cmd

import (
	"encoding/base64"

	"github.com/runZeroInc/excrypto/x/crypto/ssh"
	"github.com/sirupsen/logrus"

	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/badkeys"
)

// checkHostKey looks up the server host key recorded by a probe on the
// blocklist and returns the matching entry ID
func checkHostKey(cache *badkeys.Cache, res *auth.ProbeResult, log *logrus.Logger) string {
	if cache == nil || res == nil || res.HostKey == "" {
		return ""
	}
	addr := auth.NewOptions(res.Host, res.Port).Addr()

	raw, err := base64.StdEncoding.DecodeString(res.HostKey)
	if err != nil {
		log.Debugf("%s bad host key encoding: %v", addr, err)
		return ""
	}
	pk, err := ssh.ParsePublicKey(raw)
	if err != nil {
		log.Debugf("%s bad host key: %v", addr, err)
		return ""
	}
	bkr, err := cache.Check(pk)
	if err != nil {
		log.Debugf("%s host key lookup failed: %v", addr, err)
		return ""
	}
	if bkr == nil {
		return ""
	}
	if bkr.Private {
		log.Warnf("%s presents a compromised unpublished %s host key (%s)", addr, pk.Type(), bkr.GetID())
	} else {
		log.Warnf("%s presents a compromised %s host key: %s", addr, pk.Type(), bkr.GetURL())
	}
	return bkr.GetID()
}
