package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/runZeroInc/sshlogin/badkeys"
)

// badkeysCmd refreshes the compromised key tables used by --badkeys
var badkeysCmd = &cobra.Command{
	Use:   "badkeys-update [--badkeys-dir dir]",
	Short: "Updates the badkeys.info blocklist cache.",
	Long:  "Updates the badkeys.info blocklist cache used to refuse compromised private keys.",
	Run:   runBadKeys,
}

var gBadKeysDir string

func init() {
	badkeysCmd.Flags().StringVar(&gBadKeysDir, "badkeys-dir", "", "The badkeys cache directory (default is $HOME/.cache/sshlogin/badkeys)")
}

func runBadKeys(cmd *cobra.Command, args []string) {
	log := configureLogging()

	bkc := badkeys.NewCache(log)
	if gBadKeysDir != "" {
		bkc.SetCacheDir(gBadKeysDir)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	log.Infof("updating badkeys cache in %s from %s", bkc.GetCacheDir(), bkc.MetaURL)
	over, nver, err := bkc.Update(ctx)
	if err != nil {
		log.Fatalf("failed to update cache: %v", err)
	}
	if over == nver {
		log.Infof("cache is current (%s)", nver)
		return
	}
	tset, err := bkc.LoadBlocklist()
	if err != nil {
		log.Fatalf("updated cache does not load: %v", err)
	}
	log.Infof("cache updated (old:%s, new:%s, keys:%d)", over, nver, len(tset.Blocks)/badkeys.BlockLength)
}
