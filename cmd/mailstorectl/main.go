// Command mailstorectl inspects and repairs a mail store.
package main

import (
	"fmt"
	"os"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/config"
	"github.com/ProtonMail/mailstore/reporter"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.WithError(err).Fatal("Command failed")
	}
}

func newApp() *cli.App {
	app := cli.NewApp()

	app.Name = "mailstorectl"
	app.Usage = "mail store administration"
	app.Description = `Manages the mailboxes, messages and quotas of a mail store.

The store is opened from the configuration file given with --config; every
setting can be overridden with a MAILSTORE_ environment variable. Mailboxes
are addressed by name, within the mailboxes of the user given with --user.`
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file",
			EnvVars: []string{"MAILSTORE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Override the data directory of the configuration",
		},
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "Owner of the addressed mailboxes",
			EnvVars: []string{"MAILSTORE_USER"},
		},
	}
	app.Commands = []*cli.Command{
		mailboxCommand(),
		messageCommand(),
		importCommand(),
		quotaCommand(),
	}

	return app
}

// openStore opens the store described by the configuration. The caller closes it.
func openStore(c *cli.Context) (*mailstore.Store, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	logrus.SetLevel(cfg.LogLevel())

	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}

	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	return mailstore.New(append(opts, mailstore.WithReporter(reporter.LogReporter{}))...)
}

// withStore runs fn against the opened store and closes it afterwards.
func withStore(fn func(c *cli.Context, s *mailstore.Store) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		s, err := openStore(c)
		if err != nil {
			return err
		}

		defer func() {
			if err := s.Close(); err != nil {
				logrus.WithError(err).Error("Failed to close store")
			}
		}()

		return fn(c, s)
	}
}

func requireUser(c *cli.Context) (string, error) {
	user := c.String("user")
	if user == "" {
		return "", cli.Exit("--user is required", 2)
	}

	return user, nil
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return cli.Exit(fmt.Sprintf("expected %v arguments: %v", n, c.Command.ArgsUsage), 2)
	}

	return nil
}
