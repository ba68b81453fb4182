package main

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/async"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/logging"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/ProtonMail/mailstore/store"
	"github.com/urfave/cli/v2"
)

func mailboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "mailbox",
		Usage: "Mailbox management",
		Subcommands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a mailbox",
				ArgsUsage: "NAME",
				Action:    withStore(mailboxCreate),
			},
			{
				Name:   "list",
				Usage:  "List the mailboxes of the user",
				Action: withStore(mailboxList),
			},
			{
				Name:      "stat",
				Usage:     "Show the counters and sequences of a mailbox",
				ArgsUsage: "NAME",
				Action:    withStore(mailboxStat),
			},
			{
				Name:  "recount",
				Usage: "Recount messages and fix the stored counters",
				Description: `Recounts the given mailboxes, or every mailbox of the user if none is given.
The mailboxes should not be in use while they are recounted.`,
				ArgsUsage: "[NAME...]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "jobs",
						Usage: "Number of mailboxes recounted at once",
						Value: runtime.NumCPU(),
					},
				},
				Action: withStore(mailboxRecount),
			},
			{
				Name:      "expunge",
				Usage:     "Remove the messages flagged \\Deleted",
				ArgsUsage: "NAME",
				Action:    withStore(mailboxExpunge),
			},
			{
				Name:      "rename",
				Usage:     "Rename a mailbox",
				ArgsUsage: "NAME NEWNAME",
				Action:    withStore(mailboxRename),
			},
			{
				Name:      "delete",
				Usage:     "Delete a mailbox and its messages",
				ArgsUsage: "NAME",
				Action:    withStore(mailboxDelete),
			},
		},
	}
}

func findMailbox(c *cli.Context, s *mailstore.Store, name string) (mailbox.Mailbox, error) {
	user, err := requireUser(c)
	if err != nil {
		return mailbox.Mailbox{}, err
	}

	return s.Mailboxes().FindByName(c.Context, user, name)
}

func mailboxCreate(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	user, err := requireUser(c)
	if err != nil {
		return err
	}

	mbox, err := s.Mailboxes().Create(c.Context, user, c.Args().First())
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, mbox.ID)

	return nil
}

func mailboxList(c *cli.Context, s *mailstore.Store) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	mboxes, err := s.Mailboxes().List(c.Context, user)
	if err != nil {
		return err
	}

	for _, mbox := range mboxes {
		fmt.Fprintf(c.App.Writer, "%v\t%v\t%v\t%v\n", mbox.ID, mbox.Name, mbox.MessageCount, mbox.UnseenCount)
	}

	return nil
}

func mailboxStat(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	mbox, err := findMailbox(c, s, c.Args().First())
	if err != nil {
		return err
	}

	flags, err := s.Messages().GetApplicableFlags(c.Context, mbox.ID)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.App.Writer, "id:            %v\n", mbox.ID)
	fmt.Fprintf(c.App.Writer, "name:          %v\n", mbox.Name)
	fmt.Fprintf(c.App.Writer, "uidvalidity:   %v\n", mbox.UIDValidity)
	fmt.Fprintf(c.App.Writer, "last uid:      %v\n", mbox.LastUID)
	fmt.Fprintf(c.App.Writer, "highest mod:   %v\n", mbox.HighestModSeq)
	fmt.Fprintf(c.App.Writer, "messages:      %v\n", mbox.MessageCount)
	fmt.Fprintf(c.App.Writer, "unseen:        %v\n", mbox.UnseenCount)
	fmt.Fprintf(c.App.Writer, "flags:         %v\n", flags)

	return nil
}

func mailboxRecount(c *cli.Context, s *mailstore.Store) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var mboxes []mailbox.Mailbox

	if c.NArg() == 0 {
		if mboxes, err = s.Mailboxes().List(c.Context, user); err != nil {
			return err
		}
	} else {
		for _, name := range c.Args().Slice() {
			mbox, err := s.Mailboxes().FindByName(c.Context, user, name)
			if err != nil {
				return err
			}

			mboxes = append(mboxes, mbox)
		}
	}

	results, err := recountMailboxes(c.Context, s.Messages(), mboxes, c.Int("jobs"))

	for _, mbox := range mboxes {
		if counters, ok := results[mbox.ID]; ok {
			fmt.Fprintf(c.App.Writer, "%v\t%v\t%v\n", mbox.Name, counters.MessageCount, counters.UnseenCount)
		}
	}

	return err
}

// recountMailboxes recounts the mailboxes at most jobs at a time. Every mailbox is recounted even if others
// fail; the first error is returned.
func recountMailboxes(
	ctx context.Context,
	messages mailbox.MessageMapper,
	mboxes []mailbox.Mailbox,
	jobs int,
) (map[imap.MailboxID]mailbox.Counters, error) {
	if jobs < 1 {
		jobs = 1
	}

	sem := store.NewSemaphore(jobs, async.LogPanicHandler{})

	var (
		lock     sync.Mutex
		results  = make(map[imap.MailboxID]mailbox.Counters, len(mboxes))
		firstErr error
	)

	for _, mbox := range mboxes {
		mbox := mbox

		sem.Go(func() {
			logging.DoAnnotated(ctx, func(ctx context.Context) {
				counters, err := messages.RecalculateCounters(ctx, mbox.ID)

				lock.Lock()
				defer lock.Unlock()

				if err != nil {
					logging.Entry(ctx).WithError(err).Error("Failed to recount mailbox")

					if firstErr == nil {
						firstErr = err
					}

					return
				}

				logging.Entry(ctx).WithField("count", counters.MessageCount).Debug("Recounted mailbox")

				results[mbox.ID] = counters
			}, logging.Labels{"job": "recount", "mailbox": mbox.Name})
		})
	}

	sem.Wait()

	return results, firstErr
}

func mailboxExpunge(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	mbox, err := findMailbox(c, s, c.Args().First())
	if err != nil {
		return err
	}

	removed, err := s.Messages().ExpungeMarkedForDeletionInMailbox(c.Context, mbox.ID, imap.All())

	fmt.Fprintf(c.App.Writer, "expunged %v messages\n", len(removed))

	return err
}

func mailboxRename(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}

	mbox, err := findMailbox(c, s, c.Args().Get(0))
	if err != nil {
		return err
	}

	return s.Mailboxes().Rename(c.Context, mbox.ID, c.Args().Get(1))
}

func mailboxDelete(c *cli.Context, s *mailstore.Store) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	mbox, err := findMailbox(c, s, c.Args().First())
	if err != nil {
		return err
	}

	return s.Mailboxes().Delete(c.Context, mbox.ID)
}
