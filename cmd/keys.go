package cmd

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// MaxPrivateKeySize bounds private key files read from disk
	MaxPrivateKeySize = 64 * 1024
	MaxPasswordLine   = 32768
)

// readPrivateKeyFile loads key material for a login check. Keys readable by
// other users are still used but flagged.
func readPrivateKeyFile(path string, log *logrus.Logger) ([]byte, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.Size() > MaxPrivateKeySize {
		return nil, fmt.Errorf("private key file '%s' is too large (%d bytes)", path, st.Size())
	}
	if runtime.GOOS != "windows" && st.Mode().Perm()&0o077 != 0 {
		log.Warnf("private key file '%s' is accessible by other users (%v)", path, st.Mode().Perm())
	}
	return os.ReadFile(path)
}

// readPasswordFile returns the first non-blank line of path
func readPasswordFile(path string) (string, error) {
	fd, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer fd.Close()

	scan := bufio.NewScanner(fd)
	buff := make([]byte, MaxPasswordLine)
	scan.Buffer(buff, MaxPasswordLine)
	for scan.Scan() {
		line := strings.TrimRight(scan.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		return line, nil
	}
	if err := scan.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("password file '%s' is empty", path)
}
