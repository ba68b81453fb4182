package mapper

import (
	"context"
	"strings"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/ProtonMail/mailstore/mailbox"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"
)

// MailboxMapper manages the mailbox rows. Name uniqueness is checked by a scan before writing, so two
// concurrent creations of the same name can both succeed.
type MailboxMapper struct {
	table    backend.Table
	messages *MessageMapper
	gen      imap.UIDValidityGenerator
}

func NewMailboxMapper(client backend.Client, messages *MessageMapper, gen imap.UIDValidityGenerator) *MailboxMapper {
	return &MailboxMapper{
		table:    client.Table(backend.TableMailboxes),
		messages: messages,
		gen:      gen,
	}
}

func (m *MailboxMapper) Create(ctx context.Context, user, name string) (mailbox.Mailbox, error) {
	if err := checkName(name); err != nil {
		return mailbox.Mailbox{}, err
	}

	if _, err := m.FindByName(ctx, user, name); err == nil {
		return mailbox.Mailbox{}, backend.Precondition("create mailbox", name, "mailbox already exists for %v", user)
	} else if !backend.IsErrNotFound(err) {
		return mailbox.Mailbox{}, err
	}

	uidValidity, err := m.gen.Generate()
	if err != nil {
		return mailbox.Mailbox{}, backend.Wrap("create mailbox", name, err)
	}

	mbox := mailbox.Mailbox{
		ID:          imap.NewMailboxID(),
		User:        user,
		Name:        name,
		UIDValidity: uidValidity,
	}

	zero := backend.EncodeInt64(0)

	if err := m.table.Put(ctx, mbox.ID.ToBytes(), familyMailbox, map[string][]byte{
		colUser:        []byte(user),
		colName:        []byte(name),
		colUIDValidity: backend.EncodeInt64(int64(uidValidity)),
		colLastUID:     zero,
		colModSeq:      zero,
		colCount:       zero,
		colUnseen:      zero,
	}); err != nil {
		return mailbox.Mailbox{}, wrap("create mailbox", mbox.ID, err)
	}

	logrus.WithField("mailbox", mbox.ID.ShortID()).WithField("user", user).Debug("Created mailbox")

	return mbox, nil
}

func (m *MailboxMapper) Get(ctx context.Context, mboxID imap.MailboxID) (mailbox.Mailbox, error) {
	row, err := m.table.Get(ctx, mboxID.ToBytes(), familyMailbox)
	if err != nil {
		return mailbox.Mailbox{}, wrap("get mailbox", mboxID, err)
	}

	mbox, err := decodeMailbox(row)
	if err != nil {
		return mailbox.Mailbox{}, wrap("get mailbox", mboxID, err)
	}

	return mbox, nil
}

func (m *MailboxMapper) FindByName(ctx context.Context, user, name string) (mailbox.Mailbox, error) {
	mboxes, err := m.scan(ctx, "find mailbox", backend.ColumnEquals(colName, []byte(name)))
	if err != nil {
		return mailbox.Mailbox{}, err
	}

	for _, mbox := range mboxes {
		if mbox.User == user {
			return mbox, nil
		}
	}

	return mailbox.Mailbox{}, backend.Wrap("find mailbox", name, backend.ErrNotFound)
}

// List returns the mailboxes of the user sorted by name.
func (m *MailboxMapper) List(ctx context.Context, user string) ([]mailbox.Mailbox, error) {
	mboxes, err := m.scan(ctx, "list mailboxes", backend.ColumnEquals(colUser, []byte(user)))
	if err != nil {
		return nil, err
	}

	slices.SortFunc(mboxes, func(a, b mailbox.Mailbox) bool {
		return a.Name < b.Name
	})

	return mboxes, nil
}

func (m *MailboxMapper) Rename(ctx context.Context, mboxID imap.MailboxID, name string) error {
	if err := checkName(name); err != nil {
		return err
	}

	mbox, err := m.Get(ctx, mboxID)
	if err != nil {
		return err
	}

	if mbox.Name == name {
		return nil
	}

	if other, err := m.FindByName(ctx, mbox.User, name); err == nil && other.ID != mboxID {
		return backend.Precondition("rename mailbox", mboxID.String(), "mailbox %q already exists", name)
	} else if err != nil && !backend.IsErrNotFound(err) {
		return err
	}

	if err := m.table.Put(ctx, mboxID.ToBytes(), familyMailbox, map[string][]byte{colName: []byte(name)}); err != nil {
		return wrap("rename mailbox", mboxID, err)
	}

	return nil
}

// Delete removes the messages of the mailbox, their content, then the mailbox row. Listeners are told about
// every removed message. A failure leaves the mailbox row in place so the deletion can be retried.
func (m *MailboxMapper) Delete(ctx context.Context, mboxID imap.MailboxID) error {
	if _, err := m.Get(ctx, mboxID); err != nil {
		return err
	}

	removed, err := m.messages.deleteAll(ctx, mboxID)

	m.messages.notifyRemoved(ctx, mboxID, removed...)

	if err != nil {
		return err
	}

	if _, err := m.table.Delete(ctx, mboxID.ToBytes()); err != nil {
		return wrap("delete mailbox", mboxID, err)
	}

	logEntry(ctx, mboxID).WithField("messages", len(removed)).Debug("Deleted mailbox")

	return nil
}

func (m *MailboxMapper) scan(ctx context.Context, op string, filter *backend.Filter) ([]mailbox.Mailbox, error) {
	rows, err := backend.ScanAll(ctx, m.table, backend.ScanRequest{
		Family: familyMailbox,
		Filter: filter,
	})
	if err != nil {
		return nil, backend.Wrap(op, string(filter.Value), err)
	}

	mboxes := make([]mailbox.Mailbox, 0, len(rows))

	for _, row := range rows {
		mbox, err := decodeMailbox(row)
		if err != nil {
			return nil, backend.Wrap(op, string(filter.Value), err)
		}

		mboxes = append(mboxes, mbox)
	}

	return mboxes, nil
}

func decodeMailbox(row backend.Row) (mailbox.Mailbox, error) {
	id, err := imap.MailboxIDFromBytes(row.Key)
	if err != nil {
		return mailbox.Mailbox{}, err
	}

	mbox := mailbox.Mailbox{
		ID:   id,
		User: row.String(colUser),
		Name: row.String(colName),
	}

	ints := map[string]*int64{}

	var uidValidity, lastUID, modSeq int64

	ints[colUIDValidity] = &uidValidity
	ints[colLastUID] = &lastUID
	ints[colModSeq] = &modSeq
	ints[colCount] = &mbox.MessageCount
	ints[colUnseen] = &mbox.UnseenCount

	for col, dst := range ints {
		if *dst, err = row.Int(col); err != nil {
			return mailbox.Mailbox{}, err
		}
	}

	mbox.UIDValidity = imap.UID(uidValidity)
	mbox.LastUID = imap.UID(lastUID)
	mbox.HighestModSeq = imap.ModSeq(modSeq)

	return mbox, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return backend.Precondition("check mailbox name", name, "mailbox name is empty")
	}

	return nil
}
