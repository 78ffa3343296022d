package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/badkeys"
	"github.com/runZeroInc/sshlogin/strategy"
)

// strategyFlags maps viper keys (the strategy.Config mapstructure tags) to
// command line flags
var strategyFlags = map[string]string{
	"name":                 "name",
	"host":                 "host",
	"port":                 "port",
	"timeout":              "timeout",
	"username_field":       "username-field",
	"password_field":       "password-field",
	"private_key_field":    "private-key-field",
	"pass_req_to_callback": "pass-req-to-callback",
	"bad_request_message":  "bad-request-message",
	"rejected_message":     "rejected-message",
	"host_key_fingerprint": "host-key-fingerprint",
	"known_hosts":          "known-hosts",
	"host_key_type":        "host-key-type",
	"client_version":       "client-version",
	"badkeys":              "badkeys",
	"badkeys_dir":          "badkeys-dir",
	"revoked_keys":         "revoked-keys",
}

func addStrategyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("name", strategy.DefaultName, "The name the strategy is registered under")
	f.String("host", auth.DefaultHost, "The SSH server that checks logins")
	f.Int("port", auth.DefaultPort, "The SSH server port")
	f.Duration("timeout", auth.DefaultTimeout, "The connect and handshake timeout for each login attempt")
	f.String("username-field", strategy.DefaultUsernameField, "The request field holding the username")
	f.String("password-field", strategy.DefaultPasswordField, "The request field holding the password")
	f.String("private-key-field", "", "The request field holding a PEM or OpenSSH private key (disabled when empty)")
	f.Bool("pass-req-to-callback", false, "Pass the login request to the verify callback")
	f.String("bad-request-message", strategy.DefaultBadRequestMessage, "The error message for requests without credentials")
	f.String("rejected-message", strategy.DefaultRejectedMessage, "The failure message for rejected logins")
	f.String("host-key-fingerprint", "", "Only accept a server host key with this SHA256 fingerprint")
	f.StringSlice("known-hosts", nil, "Verify the server host key against these known_hosts files")
	f.String("host-key-type", "", "Limit the server host key type (rsa,ecdsa,ed25519)")
	f.String("client-version", auth.DefaultClientVersion, "The SSH client version to send to the server")
	f.Bool("badkeys", false, "Refuse private keys found on the badkeys.info blocklist")
	f.String("badkeys-dir", "", "The badkeys cache directory (default is $HOME/.cache/sshlogin/badkeys)")
	f.StringSlice("revoked-keys", nil, "authorized_keys style files listing keys to refuse")
}

// bindStrategyFlags binds the flags of the command being run. Binding happens
// at run time because serve and check share viper keys.
func bindStrategyFlags(cmd *cobra.Command, args []string) error {
	for key, flag := range strategyFlags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind %s: %w", flag, err)
		}
	}
	return nil
}

func loadStrategyConfig() (strategy.Config, error) {
	var cfg strategy.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// loadKeyChecker returns nil when neither the blocklist nor revoked key
// files are enabled
func loadKeyChecker(log *logrus.Logger) (*badkeys.Cache, error) {
	revoked := viper.GetStringSlice("revoked_keys")
	if !viper.GetBool("badkeys") && len(revoked) == 0 {
		return nil, nil
	}
	cache := badkeys.NewCache(log)
	if dir := viper.GetString("badkeys_dir"); dir != "" {
		cache.SetCacheDir(dir)
	}
	for _, path := range revoked {
		cache.AddRevokedFile(path)
	}
	tset, err := cache.LoadBlocklist()
	if err != nil {
		return nil, err
	}
	if tset.Meta != nil {
		log.Infof("loaded badkeys blocklist from %s (%s)", cache.GetCacheDir(), tset.Meta.Date)
	}
	return cache, nil
}

// buildStrategy wires the configured strategy, logger, and key checker
func buildStrategy(cfg strategy.Config, verify strategy.VerifyFunc, log *logrus.Logger) (*strategy.Strategy, *badkeys.Cache, error) {
	var (
		s   *strategy.Strategy
		err error
	)
	if cfg.PassReqToCallback {
		s, err = strategy.NewWithRequest(cfg, withRequest(verify, log))
	} else {
		s, err = strategy.New(cfg, verify)
	}
	if err != nil {
		return nil, nil, err
	}
	s = s.WithLogger(log)

	cache, err := loadKeyChecker(log)
	if err != nil {
		return nil, nil, err
	}
	if cache != nil {
		s = s.WithKeyChecker(cache)
	}
	return s, cache, nil
}
