package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/emersion/go-mbox"
	"github.com/urfave/cli/v2"
)

const exportSender = "MAILER-DAEMON"

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "mbox",
		Usage: "Import and export mbox files",
		Subcommands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Append the messages of an mbox file to a mailbox",
				ArgsUsage: "MAILBOX FILE",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "flag",
						Usage: "Flags set on every imported message",
					},
					&cli.BoolFlag{
						Name:  "create",
						Usage: "Create the mailbox if it does not exist",
					},
				},
				Action: withStore(mboxImport),
			},
			{
				Name:      "export",
				Usage:     "Write the messages of a mailbox to an mbox file",
				ArgsUsage: "MAILBOX FILE",
				Action:    withStore(mboxExport),
			},
		},
	}
}

func mboxImport(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	mbox, err := findMailbox(c, s, c.Args().Get(0))
	if mailstore.IsNotFound(err) && c.Bool("create") {
		mbox, err = s.Mailboxes().Create(c.Context, c.String("user"), c.Args().Get(0))
	}

	if err != nil {
		return err
	}

	f, err := os.Open(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := importMBox(c.Context, s.Messages(), mbox.ID, f, imap.NewFlagSet(c.StringSlice("flag")...))

	fmt.Fprintf(c.App.Writer, "imported %v messages\n", n)

	return err
}

// importMBox appends every message of the mbox stream to the mailbox and returns how many were added.
func importMBox(ctx context.Context, messages mailbox.MessageMapper, mboxID imap.MailboxID, r io.Reader, flags imap.FlagSet) (int, error) {
	mr := mbox.NewReader(r)

	var count int

	for {
		msg, err := mr.NextMessage()
		if errors.Is(err, io.EOF) {
			return count, nil
		} else if err != nil {
			return count, fmt.Errorf("failed to read message %v: %w", count+1, err)
		}

		literal, err := mailbox.ParseLiteral(msg)
		if err != nil {
			return count, fmt.Errorf("failed to parse message %v: %w", count+1, err)
		}

		if _, err := messages.Add(ctx, mboxID, literal.NewAppendMessage(mailbox.WithFlags(flags.Clone()))); err != nil {
			return count, err
		}

		count++
	}
}

func mboxExport(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	mbox, err := findMailbox(c, s, c.Args().Get(0))
	if err != nil {
		return err
	}

	f, err := os.Create(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := exportMBox(c.Context, s.Messages(), mbox.ID, f)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "exported %v messages\n", n)

	return f.Close()
}

// exportMBox writes every message of the mailbox to w in mbox format and returns how many were written.
func exportMBox(ctx context.Context, messages mailbox.MessageMapper, mboxID imap.MailboxID, w io.Writer) (int, error) {
	msgs, err := messages.FindInMailbox(ctx, mboxID, imap.All(), imap.FetchFull, 0)
	if err != nil {
		return 0, err
	}

	mw := mbox.NewWriter(w)

	for _, msg := range msgs {
		if err := exportMessage(ctx, mw, msg); err != nil {
			return 0, fmt.Errorf("failed to export message %v: %w", msg.UID, err)
		}
	}

	if err := mw.Close(); err != nil {
		return 0, err
	}

	return len(msgs), nil
}

func exportMessage(ctx context.Context, mw *mbox.Writer, msg *mailbox.Message) error {
	full, err := mailbox.OpenFull(ctx, msg.Content)
	if err != nil {
		return err
	}
	defer full.Close()

	w, err := mw.CreateMessage(exportSender, msg.InternalDate.In(time.UTC))
	if err != nil {
		return err
	}

	_, err = io.Copy(w, full)

	return err
}
