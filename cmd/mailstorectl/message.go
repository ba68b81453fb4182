package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/urfave/cli/v2"
)

func messageCommand() *cli.Command {
	rangeFlag := &cli.StringFlag{
		Name:  "uid",
		Usage: "UID range: N, N:M, N:* or *",
		Value: "*",
	}

	return &cli.Command{
		Name:  "message",
		Usage: "Message management",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List the messages of a mailbox",
				ArgsUsage: "MAILBOX",
				Flags: []cli.Flag{
					rangeFlag,
					&cli.IntFlag{
						Name:  "max",
						Usage: "List at most this many messages, 0 for all",
					},
				},
				Action: withStore(messageList),
			},
			{
				Name:      "flag",
				Usage:     "Change the flags of messages",
				ArgsUsage: "MAILBOX",
				Flags: []cli.Flag{
					rangeFlag,
					&cli.StringSliceFlag{
						Name:  "add",
						Usage: "Flags to add",
					},
					&cli.StringSliceFlag{
						Name:  "remove",
						Usage: "Flags to remove",
					},
					&cli.StringSliceFlag{
						Name:  "set",
						Usage: "Flags replacing the current ones",
					},
				},
				Action: withStore(messageFlag),
			},
			{
				Name:      "delete",
				Usage:     "Delete a single message",
				ArgsUsage: "MAILBOX UID",
				Action:    withStore(messageDelete),
			},
		},
	}
}

// parseRange parses a uid range in the usual IMAP notation. Only a single range is accepted.
func parseRange(s string) (imap.MessageRange, error) {
	if s == "*" || s == "1:*" {
		return imap.All(), nil
	}

	from, to, isRange := strings.Cut(s, ":")

	fromUID, err := parseUID(from)
	if err != nil {
		return imap.MessageRange{}, err
	}

	if !isRange {
		return imap.One(fromUID), nil
	}

	if to == "*" {
		return imap.From(fromUID), nil
	}

	toUID, err := parseUID(to)
	if err != nil {
		return imap.MessageRange{}, err
	}

	return imap.Range(fromUID, toUID), nil
}

func parseUID(s string) (imap.UID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid uid %q", s)
	}

	if v == 0 {
		return 0, fmt.Errorf("uid must be positive")
	}

	return imap.UID(v), nil
}

func messageList(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	rng, err := parseRange(c.String("uid"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	mbox, err := findMailbox(c, s, c.Args().First())
	if err != nil {
		return err
	}

	msgs, err := s.Messages().FindInMailbox(c.Context, mbox.ID, rng, imap.FetchMetadata, c.Int("max"))
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		fmt.Fprintf(c.App.Writer, "%v\t%v\t%v\t%v\t%v/%v\t%v\n",
			msg.UID,
			msg.ModSeq,
			msg.InternalDate.Format(time.RFC3339),
			msg.Size,
			msg.MediaType,
			msg.SubType,
			msg.Flags,
		)
	}

	return nil
}

func messageFlag(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	rng, err := parseRange(c.String("uid"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	var transform mailbox.FlagsTransform

	switch {
	case c.IsSet("set"):
		transform = mailbox.ReplaceFlags(c.StringSlice("set")...)

	case c.IsSet("add") && c.IsSet("remove"):
		add, remove := mailbox.AddFlags(c.StringSlice("add")...), mailbox.RemoveFlags(c.StringSlice("remove")...)

		transform = func(cur imap.FlagSet) imap.FlagSet {
			return remove(add(cur))
		}

	case c.IsSet("add"):
		transform = mailbox.AddFlags(c.StringSlice("add")...)

	case c.IsSet("remove"):
		transform = mailbox.RemoveFlags(c.StringSlice("remove")...)

	default:
		return cli.Exit("one of --add, --remove or --set is required", 2)
	}

	mbox, err := findMailbox(c, s, c.Args().First())
	if err != nil {
		return err
	}

	updated, err := s.Messages().UpdateFlags(c.Context, mbox.ID, rng, transform)

	for _, u := range updated {
		fmt.Fprintf(c.App.Writer, "%v\t%v\t%v\n", u.UID, u.ModSeq, u.NewFlags)
	}

	return err
}

func messageDelete(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	uid, err := parseUID(c.Args().Get(1))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	mbox, err := findMailbox(c, s, c.Args().First())
	if err != nil {
		return err
	}

	existed, err := s.Messages().Delete(c.Context, mbox.ID, uid)
	if err != nil {
		return err
	}

	if !existed {
		return cli.Exit(fmt.Sprintf("no message with uid %v", uid), 1)
	}

	return nil
}
