package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/logrusorgru/aurora/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/runZeroInc/sshlogin/account"
	"github.com/runZeroInc/sshlogin/auth"
	"github.com/runZeroInc/sshlogin/strategy"
)

// checkCmd verifies a single login from the command line
var checkCmd = &cobra.Command{
	Use:     "check [-k id_ed25519] [--json] user@host[:port]",
	Short:   "Checks one username and password or private key against an SSH server",
	Long:    "Checks one username and password or private key against an SSH server. The password is read from the terminal when it is not given.",
	Args:    cobra.ExactArgs(1),
	PreRunE: bindStrategyFlags,
	Run:     runCheck,
}

var (
	gUser           string
	gPassword       string
	gPasswordFile   string
	gPrivateKeyFile string
	gJSON           bool
	gNoUIDLookup    bool
)

// Exit codes for check
const (
	ExitAuthenticated = 0
	ExitRejected      = 1
	ExitError         = 2
)

func init() {
	addStrategyFlags(checkCmd)
	checkCmd.Flags().StringVarP(&gUser, "user", "u", "", "The username (overrides user@ in the target)")
	checkCmd.Flags().StringVarP(&gPassword, "password", "p", "", "The password; prompted for when empty and no key is given")
	checkCmd.Flags().StringVar(&gPasswordFile, "password-file", "", "Read the password from the first line of this file")
	checkCmd.Flags().StringVarP(&gPrivateKeyFile, "key", "k", "", "A private key file to log in with")
	checkCmd.Flags().BoolVar(&gJSON, "json", false, "Print the outcome and probe record as JSON")
	checkCmd.Flags().BoolVar(&gNoUIDLookup, "no-uid-lookup", false, "Skip the local account lookup for users that only exist remotely")
}

// readPassword prompts on a terminal or reads the first line of stdin
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func runCheck(cmd *cobra.Command, args []string) {
	os.Exit(checkLogin(configureLogging(), args[0]))
}

// checkLogin runs one login check and returns the process exit code
func checkLogin(log *logrus.Logger, target string) int {
	cfg, err := loadStrategyConfig()
	if err != nil {
		log.Errorf("%v", err)
		return ExitError
	}

	user, host, port, err := parseTarget(target, cfg.Port)
	if err != nil {
		log.Errorf("%v", err)
		return ExitError
	}
	if gUser != "" {
		user = gUser
	}
	if user == "" {
		log.Errorf("no username given, use user@host or --user")
		return ExitError
	}
	cfg.Host, cfg.Port = host, port

	body := url.Values{}
	if gPrivateKeyFile != "" {
		key, err := readPrivateKeyFile(gPrivateKeyFile, log)
		if err != nil {
			log.Errorf("failed to read private key: %v", err)
			return ExitError
		}
		if cfg.PrivateKeyField == "" {
			cfg.PrivateKeyField = "private_key"
		}
		body.Set(cfg.PrivateKeyField, string(key))
	}

	password := gPassword
	if password == "" && gPasswordFile != "" {
		if password, err = readPasswordFile(gPasswordFile); err != nil {
			log.Errorf("failed to read password file: %v", err)
			return ExitError
		}
	}
	if password == "" && gPrivateKeyFile == "" {
		if password, err = readPassword(user + "@" + host + "'s password: "); err != nil {
			log.Errorf("failed to read password: %v", err)
			return ExitError
		}
	}

	s, cache, err := buildStrategy(cfg, nil, log)
	if err != nil {
		log.Errorf("failed to configure strategy: %v", err)
		return ExitError
	}
	if gNoUIDLookup {
		s = s.WithLookup(account.Static{user: -1})
	}

	var probe *auth.ProbeResult
	s = s.WithObserver(func(res *auth.ProbeResult) { probe = res })

	body.Set(s.Config().UsernameField, user)
	if password != "" {
		body.Set(s.Config().PasswordField, password)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rec := &strategy.Recorder{}
	s.Authenticate(ctx, strategy.Params{Body: body}, rec)

	rep := newCheckReport(rec, probe)
	rep.BadHostKey = checkHostKey(cache, probe, log)

	if gJSON {
		if err := writeJSON(os.Stdout, rep); err != nil {
			log.Errorf("failed to write output: %v", err)
			return ExitError
		}
	} else {
		au := aurora.NewAurora(term.IsTerminal(int(os.Stdout.Fd())))
		fmt.Println(rep.summary(au))
		if probe != nil && probe.Version != "" {
			fmt.Printf("  server:   %s\n", probe.Version)
			fmt.Printf("  host key: %s %s\n", probe.HostKeyType, probe.HostKeyFingerprint)
			if probe.Method != "" {
				fmt.Printf("  method:   %s\n", probe.Method)
			}
			fmt.Printf("  methods:  %s\n", strings.Join(probe.Methods, ","))
		}
	}

	switch rec.Result {
	case strategy.ResultSuccess:
		return ExitAuthenticated
	case strategy.ResultFail:
		return ExitRejected
	}
	return ExitError
}
