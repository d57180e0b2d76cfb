package cli

import (
	"flag"
	"os"

	"github.com/avivsinai/mailsync/internal/config"
	"github.com/avivsinai/mailsync/internal/mailbox"
)

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	mhFlag := fs.Bool("mh", false, "Create an MH folder instead of a Maildir")
	writeConfigFlag := fs.Bool("write-config", false, "Also write a config file with the default settings")
	forceFlag := fs.Bool("force", false, "Overwrite an existing config file")

	usage := usageWithFlags(fs, "mailsync init --mailbox <path> [--mh] [--write-config [--force]]")
	if handled, err := parseFlags(fs, args, usage); err != nil {
		return err
	} else if handled {
		return nil
	}
	root, err := common.requireMailbox()
	if err != nil {
		return err
	}

	flavor := mailbox.Maildir
	if *mhFlag {
		flavor = mailbox.MH
	}
	if err := mailbox.Create(root, flavor, 0o700); err != nil {
		return err
	}

	cfgPath := ""
	if *writeConfigFlag {
		cfgPath = common.Config
		if cfgPath == "" {
			cfgPath = config.DefaultPath()
		}
		if err := config.WriteConfig(cfgPath, config.Default(), *forceFlag); err != nil {
			return err
		}
	}

	if common.JSON {
		return writeJSON(os.Stdout, map[string]any{
			"mailbox": root,
			"flavor":  flavor.String(),
			"config":  cfgPath,
		})
	}
	if err := writeStdout("Initialized %s at %s\n", flavor, root); err != nil {
		return err
	}
	if cfgPath != "" {
		return writeStdout("Wrote config to %s\n", cfgPath)
	}
	return nil
}
