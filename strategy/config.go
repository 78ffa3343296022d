package strategy

import (
	"fmt"
	"time"
)

const (
	DefaultName              = "ssh"
	DefaultUsernameField     = "username"
	DefaultPasswordField     = "password"
	DefaultBadRequestMessage = "Missing credentials"
	DefaultRejectedMessage   = "Invalid username or password"
	CompromisedKeyMessage    = "compromised key"
)

// Config selects where credentials are read from and which login service
// checks them. Zero values are replaced with defaults by New.
type Config struct {
	Name              string        `mapstructure:"name"`
	UsernameField     string        `mapstructure:"username_field"`
	PasswordField     string        `mapstructure:"password_field"`
	PrivateKeyField   string        `mapstructure:"private_key_field"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	Timeout           time.Duration `mapstructure:"timeout"`
	PassReqToCallback bool          `mapstructure:"pass_req_to_callback"`
	BadRequestMessage string        `mapstructure:"bad_request_message"`
	RejectedMessage   string        `mapstructure:"rejected_message"`

	// ClientVersion replaces the software version sent after "SSH-2.0-"
	ClientVersion string `mapstructure:"client_version"`

	// Host key policy; a pinned fingerprint wins over known_hosts files
	HostKeyFingerprint string   `mapstructure:"host_key_fingerprint"`
	KnownHosts         []string `mapstructure:"known_hosts"`
	HostKeyType        string   `mapstructure:"host_key_type"`
}

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.UsernameField == "" {
		c.UsernameField = DefaultUsernameField
	}
	if c.PasswordField == "" {
		c.PasswordField = DefaultPasswordField
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.BadRequestMessage == "" {
		c.BadRequestMessage = DefaultBadRequestMessage
	}
	if c.RejectedMessage == "" {
		c.RejectedMessage = DefaultRejectedMessage
	}
	return c
}

func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("invalid timeout %v", c.Timeout)
	}
	for _, r := range c.ClientVersion {
		if r <= ' ' || r > '~' {
			return fmt.Errorf("invalid client version %q", c.ClientVersion)
		}
	}
	return nil
}
