package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/logrusorgru/aurora/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	cfgFile   string
	gLogfile  string
	gLogLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sshlogin {serve, check alice@10.0.0.5, badkeys-update}",
	Short: "Verifies logins against an SSH server's own authentication",
	Long: `
` + aurora.BrightCyan(`  ▄▄▄▄ ▄▄▄▄ ▄  ▄`).String() + ` ▄    ▄▄▄  ▄▄▄  ▄ ▄▄  ▄
` + aurora.BrightCyan(`  ▀▄▄  ▀▄▄  █▄▄█`).String() + ` █   █   █ █ ▄▄ █ █ ▀▄█
` + aurora.BrightCyan(`  ▄▄▀  ▄▄▀  █  █`).String() + ` ▀▄▄ ▀▄▄▄▀ ▀▄▄▀ █ █  ▀█

Verifies usernames and passwords (or private keys) by attempting the same
login against an SSH server, so the server stays the only credential store.


Run a login service in front of the local sshd using:

$ sshlogin serve --listen 127.0.0.1:8080 --host localhost

Check a single login from the command line using:

$ sshlogin check alice@10.0.0.5:22

`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.sshlogin.json)")
	rootCmd.PersistentFlags().StringVarP(&gLogfile, "log", "l", "-", "The file to write logs to (default is stderr)")
	rootCmd.PersistentFlags().StringVarP(&gLogLevel, "log-level", "L", "info", "The log level to write (trace,debug,info,warn,error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(badkeysCmd)

	rootCmd.CompletionOptions = cobra.CompletionOptions{DisableDefaultCmd: true}
}

func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".sshlogin" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("json")
		viper.SetConfigName(".sshlogin")
	}

	viper.SetEnvPrefix("SSHLOGIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

var patTerminalEscapeSequences = regexp.MustCompile(`(\x9b|\x1b\[)[0-?]*[ -\/]*[@-~]`)

// TerminalModeHook writes log lines to a console, keeping colors only when
// the writer is an interactive terminal
type TerminalModeHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Formatter logrus.Formatter
	Colors    bool
}

func (hook *TerminalModeHook) Fire(entry *logrus.Entry) error {
	line, err := hook.Formatter.Format(entry)
	if err != nil {
		return err
	}
	line = bytes.ReplaceAll(line, []byte{0x00}, []byte{})
	if !hook.Colors {
		line = patTerminalEscapeSequences.ReplaceAll(line, []byte{})
	}
	_, err = hook.Writer.Write(line)
	return err
}

func (hook *TerminalModeHook) Levels() []logrus.Level {
	return hook.LogLevels
}

// FileModeHook writes log lines to a file with terminal escapes removed
type FileModeHook struct {
	Writer    io.Writer
	LogLevels []logrus.Level
	Formatter logrus.Formatter
}

func (hook *FileModeHook) Fire(entry *logrus.Entry) error {
	line, err := hook.Formatter.Format(entry)
	if err != nil {
		return err
	}
	line = bytes.ReplaceAll(line, []byte{0x00}, []byte{})
	line = patTerminalEscapeSequences.ReplaceAll(line, []byte{})
	_, err = hook.Writer.Write(line)
	return err
}

func (hook *FileModeHook) Levels() []logrus.Level {
	return hook.LogLevels
}

func parseLogLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "", "info":
		return logrus.InfoLevel, nil
	case "warn":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func configureLogging() *logrus.Logger {
	allLevels := []logrus.Level{
		logrus.PanicLevel,
		logrus.FatalLevel,
		logrus.ErrorLevel,
		logrus.WarnLevel,
		logrus.InfoLevel,
		logrus.DebugLevel,
		logrus.TraceLevel,
	}

	logger := logrus.New()

	level, err := parseLogLevel(gLogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using info\n", err)
	}
	logger.Level = level

	// Discard and use the hooks instead
	logger.Out = io.Discard

	if gLogfile != "" && gLogfile != "-" {
		logFD, err := os.OpenFile(gLogfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			logger.Out = os.Stderr
			logger.Fatalf("can't open log '%s': %v", gLogfile, err)
		}
		logger.AddHook(&FileModeHook{
			Writer:    logFD,
			LogLevels: allLevels,
			Formatter: &logrus.TextFormatter{
				TimestampFormat: "2006-01-02 15:04:05",
				FullTimestamp:   true,
				DisableColors:   true,
			},
		})
		return logger
	}

	colors := term.IsTerminal(int(os.Stderr.Fd()))
	logger.AddHook(&TerminalModeHook{
		Writer:    os.Stderr,
		LogLevels: allLevels,
		Colors:    colors,
		Formatter: &logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
			ForceColors:     colors,
		},
	})
	return logger
}
