package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/polkit-go/polkitd/cmd/polkitd/daemon"
	"github.com/polkit-go/polkitd/internal/config"
	"github.com/polkit-go/polkitd/internal/i18n"
)

func main() {
	i18n.InitI18nDomain(config.TEXTDOMAIN)

	rootCmd := daemon.Cmd()
	if err := rootCmd.Execute(); err != nil {
		// This is a usage error; format it the same as any other error.
		log.SetFormatter(&log.TextFormatter{
			DisableLevelTruncation: true,
			DisableTimestamp:       true,
		})
		log.Error(err)
		os.Exit(2)
	}
	if err := daemon.Error(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
