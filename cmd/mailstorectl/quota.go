package main

import (
	"fmt"
	"strconv"

	"github.com/ProtonMail/mailstore"
	"github.com/urfave/cli/v2"
)

func quotaCommand() *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Current quota values",
		Subcommands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "Show the current usage of the quota root of the user",
				Action: withStore(quotaGet),
			},
			{
				Name:      "set",
				Usage:     "Overwrite the current usage of the quota root of the user",
				ArgsUsage: "COUNT SIZE",
				Action:    withStore(quotaSet),
			},
			{
				Name:   "recalculate",
				Usage:  "Recount the messages of the user and fix its current usage",
				Action: withStore(quotaRecalculate),
			},
		},
	}
}

func quotaGet(c *cli.Context, s *mailstore.Store) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	root := s.QuotaRoot(user)

	usage, err := s.Quota().GetCurrentQuotas(c.Context, root)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%v\t%v\t%v\n", root, usage.Count, usage.Size)

	return nil
}

func quotaSet(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	user, err := requireUser(c)
	if err != nil {
		return err
	}

	count, err := strconv.ParseInt(c.Args().Get(0), 10, 64)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid count %q", c.Args().Get(0)), 2)
	}

	size, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid size %q", c.Args().Get(1)), 2)
	}

	return s.Quota().SetCurrentQuotas(c.Context, s.QuotaRoot(user), count, size)
}

func quotaRecalculate(c *cli.Context, s *mailstore.Store) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	usage, err := s.RecalculateQuota(c.Context, user)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "%v\t%v\t%v\n", s.QuotaRoot(user), usage.Count, usage.Size)

	return nil
}
