package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/mailstore"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

const testMBox = `From alice@example.com Thu Jan  1 00:00:00 2015
From: alice@example.com
Subject: first

Hello.

From bob@example.com Thu Jan  1 00:00:00 2015
From: bob@example.com
Subject: second
Content-Type: text/html

<p>Hi.</p>
`

type testCLI struct {
	dir string
}

func newTestCLI(t *testing.T) *testCLI {
	return &testCLI{dir: t.TempDir()}
}

func (tc *testCLI) run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run(append([]string{"mailstorectl", "--data-dir", tc.dir, "--user", "alice@example.com"}, args...))

	return out.String(), err
}

func (tc *testCLI) mustRun(t *testing.T, args ...string) string {
	out, err := tc.run(t, args...)
	require.NoError(t, err, out)

	return out
}

func TestCLI_MailboxLifecycle(t *testing.T) {
	tc := newTestCLI(t)

	tc.mustRun(t, "mailbox", "create", "INBOX")
	tc.mustRun(t, "mailbox", "create", "Archive")

	_, err := tc.run(t, "mailbox", "create", "INBOX")
	require.Error(t, err)

	out := tc.mustRun(t, "mailbox", "list")
	require.Contains(t, out, "INBOX")
	require.Contains(t, out, "Archive")

	tc.mustRun(t, "mailbox", "rename", "Archive", "Old")

	out = tc.mustRun(t, "mailbox", "list")
	require.NotContains(t, out, "Archive")
	require.Contains(t, out, "Old")

	tc.mustRun(t, "mailbox", "delete", "Old")

	_, err = tc.run(t, "mailbox", "stat", "Old")
	require.True(t, mailstore.IsNotFound(err))
}

func TestCLI_ImportFlagExpunge(t *testing.T) {
	tc := newTestCLI(t)

	path := filepath.Join(t.TempDir(), "in.mbox")
	require.NoError(t, os.WriteFile(path, []byte(testMBox), 0o600))

	out := tc.mustRun(t, "mbox", "import", "--create", "--flag", imap.FlagSeen, "INBOX", path)
	require.Contains(t, out, "imported 2 messages")

	out = tc.mustRun(t, "message", "list", "INBOX")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[1], "text/html")

	out = tc.mustRun(t, "quota", "get")
	require.Contains(t, out, "mail/user/alice@example.com\t2\t")

	tc.mustRun(t, "message", "flag", "--uid", "2", "--add", imap.FlagDeleted, "INBOX")

	out = tc.mustRun(t, "mailbox", "expunge", "INBOX")
	require.Contains(t, out, "expunged 1 messages")

	out = tc.mustRun(t, "mailbox", "recount")
	require.Contains(t, out, "INBOX\t1\t0")

	out = tc.mustRun(t, "quota", "recalculate")
	require.Contains(t, out, "\t1\t")

	tc.mustRun(t, "quota", "set", "0", "0")

	out = tc.mustRun(t, "quota", "get")
	require.Contains(t, out, "\t0\t0")
}

func TestCLI_Export(t *testing.T) {
	tc := newTestCLI(t)

	in := filepath.Join(t.TempDir(), "in.mbox")
	require.NoError(t, os.WriteFile(in, []byte(testMBox), 0o600))

	tc.mustRun(t, "mbox", "import", "--create", "INBOX", in)

	out := filepath.Join(t.TempDir(), "out.mbox")
	require.Contains(t, tc.mustRun(t, "mbox", "export", "INBOX", out), "exported 2 messages")

	require.Contains(t, tc.mustRun(t, "mbox", "import", "--create", "Copy", out), "imported 2 messages")

	listed := tc.mustRun(t, "message", "list", "Copy")
	require.Len(t, strings.Split(strings.TrimSpace(listed), "\n"), 2)
}

func TestCLI_RequiresUser(t *testing.T) {
	var out bytes.Buffer

	app := newApp()
	app.Writer = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"mailstorectl", "--data-dir", t.TempDir(), "mailbox", "list"})
	require.Error(t, err)
}

func TestParseRange(t *testing.T) {
	tests := map[string]imap.MessageRange{
		"*":   imap.All(),
		"1:*": imap.All(),
		"7":   imap.One(7),
		"3:*": imap.From(3),
		"2:9": imap.Range(2, 9),
		"9:2": imap.Range(9, 2),
	}

	for in, want := range tests {
		got, err := parseRange(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "0", "a:3", "3:b", "-1"} {
		_, err := parseRange(in)
		require.Error(t, err, in)
	}
}

func TestRecountMailboxes(t *testing.T) {
	s, err := mailstore.New(mailstore.WithDataDir(t.TempDir()))
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()

	var mboxes []mailbox.Mailbox

	for _, name := range []string{"a", "b", "c", "d"} {
		mbox, err := s.Mailboxes().Create(ctx, "alice@example.com", name)
		require.NoError(t, err)

		n, err := importMBox(ctx, s.Messages(), mbox.ID, strings.NewReader(testMBox), imap.NewFlagSet())
		require.NoError(t, err)
		require.Equal(t, 2, n)

		mboxes = append(mboxes, mbox)
	}

	results, err := recountMailboxes(ctx, s.Messages(), mboxes, 2)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, mbox := range mboxes {
		require.Equal(t, mailbox.Counters{MessageCount: 2, UnseenCount: 2}, results[mbox.ID])
	}
}
