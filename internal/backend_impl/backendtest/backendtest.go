// Package backendtest checks that a backend honours the single-row atomicity and scan semantics relied upon
// by the mappers.
package backendtest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ProtonMail/mailstore/backend"
	"github.com/ProtonMail/mailstore/imap"
	"github.com/bradenaw/juniper/xslices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const family = "meta"

func Run(t *testing.T, newClient func(t *testing.T) backend.Client) {
	tests := []struct {
		name string
		fn   func(*testing.T, backend.Client)
	}{
		{"GetMissing", testGetMissing},
		{"PutGet", testPutGet},
		{"PutNilRemovesCell", testPutNilRemovesCell},
		{"FamiliesAreIsolated", testFamiliesAreIsolated},
		{"Increment", testIncrement},
		{"IncrementExisting", testIncrementExisting},
		{"PutExisting", testPutExisting},
		{"PutExistingRacingDelete", testPutExistingRacingDelete},
		{"ConcurrentIncrement", testConcurrentIncrement},
		{"Delete", testDelete},
		{"ConcurrentDelete", testConcurrentDelete},
		{"ScanRange", testScanRange},
		{"ScanFilter", testScanFilter},
		{"ScanLimit", testScanLimit},
		{"OrderedIndex", testOrderedIndex},
	}

	for _, test := range tests {
		test := test

		t.Run(test.name, func(t *testing.T) {
			client := newClient(t)
			defer func() { require.NoError(t, client.Close()) }()

			test.fn(t, client)
		})
	}
}

func testGetMissing(t *testing.T, client backend.Client) {
	_, err := client.Table(backend.TableMessages).Get(context.Background(), []byte("nope"), family)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func testPutGet(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{
		"a": []byte("1"),
		"b": []byte("2"),
		"c": {},
	}))

	row, err := tbl.Get(ctx, []byte("row"), family)
	require.NoError(t, err)
	require.Equal(t, []byte("row"), row.Key)
	require.Equal(t, []string{"a", "b", "c"}, row.Columns())
	require.Equal(t, "2", row.String("b"))
	require.NotNil(t, row.Value("c"))

	row, err = tbl.Get(ctx, []byte("row"), family, "a", "missing")
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, row.Columns())

	// Tables are isolated.
	_, err = client.Table(backend.TableMailboxes).Get(ctx, []byte("row"), family)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func testPutNilRemovesCell(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"a": []byte("1"), "b": []byte("2")}))
	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"a": nil}))

	row, err := tbl.Get(ctx, []byte("row"), family)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, row.Columns())

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"b": nil}))

	_, err = tbl.Get(ctx, []byte("row"), family)
	require.ErrorIs(t, err, backend.ErrNotFound)
}

func testFamiliesAreIsolated(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.NoError(t, tbl.Put(ctx, []byte("row"), "one", map[string][]byte{"a": []byte("1")}))

	_, err := tbl.Get(ctx, []byte("row"), "two")
	require.ErrorIs(t, err, backend.ErrNotFound)

	rows, err := backend.ScanAll(ctx, tbl, backend.ScanRequest{Family: "two"})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func testIncrement(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableQuota)

	v, err := tbl.Increment(ctx, []byte("row"), family, "count", 5)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	v, err = tbl.Increment(ctx, []byte("row"), family, "count", -7)
	require.NoError(t, err)
	require.Equal(t, int64(-2), v)

	row, err := tbl.Get(ctx, []byte("row"), family)
	require.NoError(t, err)

	n, err := row.Int("count")
	require.NoError(t, err)
	require.Equal(t, int64(-2), n)
}

func testIncrementExisting(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMailboxes)

	_, err := tbl.IncrementExisting(ctx, []byte("row"), family, "uid", 1)
	require.ErrorIs(t, err, backend.ErrNotFound)

	_, err = tbl.Get(ctx, []byte("row"), family)
	require.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"name": []byte("INBOX")}))

	v, err := tbl.IncrementExisting(ctx, []byte("row"), family, "uid", 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
}

func testConcurrentIncrement(t *testing.T, client backend.Client) {
	const (
		workers = 8
		rounds  = 25
	)

	ctx := context.Background()
	tbl := client.Table(backend.TableMailboxes)

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"name": []byte("INBOX")}))

	var (
		wg   sync.WaitGroup
		lock sync.Mutex
		seen = make(map[int64]struct{})
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for r := 0; r < rounds; r++ {
				v, err := tbl.IncrementExisting(ctx, []byte("row"), family, "uid", 1)
				assert.NoError(t, err)

				lock.Lock()
				seen[v] = struct{}{}
				lock.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Len(t, seen, workers*rounds)

	for v := int64(1); v <= workers*rounds; v++ {
		require.Contains(t, seen, v)
	}
}

func testDelete(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.NoError(t, tbl.Put(ctx, []byte("row"), "one", map[string][]byte{"a": []byte("1")}))
	require.NoError(t, tbl.Put(ctx, []byte("row"), "two", map[string][]byte{"b": []byte("2")}))
	require.NoError(t, tbl.Put(ctx, []byte("other"), "one", map[string][]byte{"a": []byte("1")}))

	existed, err := tbl.Delete(ctx, []byte("row"))
	require.NoError(t, err)
	require.True(t, existed)

	for _, fam := range []string{"one", "two"} {
		_, err := tbl.Get(ctx, []byte("row"), fam)
		require.ErrorIs(t, err, backend.ErrNotFound)
	}

	existed, err = tbl.Delete(ctx, []byte("row"))
	require.NoError(t, err)
	require.False(t, existed)

	_, err = tbl.Get(ctx, []byte("other"), "one")
	require.NoError(t, err)
}

func testPutExisting(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.ErrorIs(t, tbl.PutExisting(ctx, []byte("row"), family, map[string][]byte{"seen": []byte("1")}), backend.ErrNotFound)

	_, err := tbl.Get(ctx, []byte("row"), family)
	require.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, tbl.Put(ctx, []byte("row"), "other", map[string][]byte{"a": []byte("1")}))
	require.ErrorIs(t, tbl.PutExisting(ctx, []byte("row"), family, map[string][]byte{"seen": []byte("1")}), backend.ErrNotFound)

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"size": []byte("10")}))
	require.NoError(t, tbl.PutExisting(ctx, []byte("row"), family, map[string][]byte{"seen": []byte("1")}))

	row, err := tbl.Get(ctx, []byte("row"), family)
	require.NoError(t, err)
	require.Equal(t, []string{"seen", "size"}, row.Columns())
}

// testPutExistingRacingDelete checks that a conditional write never brings a deleted row back.
func testPutExistingRacingDelete(t *testing.T, client backend.Client) {
	const rounds = 20

	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	for i := 0; i < rounds; i++ {
		key := []byte(fmt.Sprintf("row%02d", i))

		require.NoError(t, tbl.Put(ctx, key, family, map[string][]byte{"size": []byte("10")}))

		var wg sync.WaitGroup

		wg.Add(2)

		go func() {
			defer wg.Done()

			if err := tbl.PutExisting(ctx, key, family, map[string][]byte{"seen": []byte("1")}); err != nil {
				assert.ErrorIs(t, err, backend.ErrNotFound)
			}
		}()

		go func() {
			defer wg.Done()

			existed, err := tbl.Delete(ctx, key)
			assert.NoError(t, err)
			assert.True(t, existed)
		}()

		wg.Wait()

		_, err := tbl.Get(ctx, key, family)
		require.ErrorIs(t, err, backend.ErrNotFound)
	}
}

func testConcurrentDelete(t *testing.T, client backend.Client) {
	const workers = 8

	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.NoError(t, tbl.Put(ctx, []byte("row"), family, map[string][]byte{"a": []byte("1")}))

	var (
		wg      sync.WaitGroup
		lock    sync.Mutex
		deleted int
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			existed, err := tbl.Delete(ctx, []byte("row"))
			assert.NoError(t, err)

			if existed {
				lock.Lock()
				deleted++
				lock.Unlock()
			}
		}()
	}

	wg.Wait()

	require.Equal(t, 1, deleted)
}

func putRows(t *testing.T, tbl backend.Table, keys ...string) {
	for _, key := range keys {
		require.NoError(t, tbl.Put(context.Background(), []byte(key), family, map[string][]byte{
			"name": []byte(key),
		}))
	}
}

func keysOf(rows []backend.Row) []string {
	return xslices.Map(rows, func(row backend.Row) string {
		return string(row.Key)
	})
}

func testScanRange(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	putRows(t, tbl, "b", "a", "d", "c", "a\x00", "e")

	rows, err := backend.ScanAll(ctx, tbl, backend.ScanRequest{Family: family})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "a\x00", "b", "c", "d", "e"}, keysOf(rows))

	rows, err = backend.ScanAll(ctx, tbl, backend.ScanRequest{Start: []byte("b"), Stop: []byte("d"), Family: family})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "c"}, keysOf(rows))

	rows, err = backend.ScanAll(ctx, tbl, backend.ScanRequest{Start: []byte("c"), Family: family, Columns: []string{"other"}})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "d", "e"}, keysOf(rows))
	require.Empty(t, rows[0].Cells)
}

func testScanFilter(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	require.NoError(t, tbl.Put(ctx, []byte("1"), family, map[string][]byte{"seen": []byte("1"), "size": []byte("10")}))
	require.NoError(t, tbl.Put(ctx, []byte("2"), family, map[string][]byte{"seen": []byte("0"), "size": []byte("20")}))
	require.NoError(t, tbl.Put(ctx, []byte("3"), family, map[string][]byte{"size": []byte("30")}))

	rows, err := backend.ScanAll(ctx, tbl, backend.ScanRequest{
		Family:  family,
		Columns: []string{"size"},
		Filter:  backend.ColumnEquals("seen", []byte("1")),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, keysOf(rows))
	require.Equal(t, []string{"size"}, rows[0].Columns())

	rows, err = backend.ScanAll(ctx, tbl, backend.ScanRequest{Family: family, Filter: backend.ColumnMissing("seen")})
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, keysOf(rows))
}

func testScanLimit(t *testing.T, client backend.Client) {
	ctx := context.Background()
	tbl := client.Table(backend.TableMessages)

	for i := 0; i < 10; i++ {
		seen := "0"
		if i%2 == 0 {
			seen = "1"
		}

		require.NoError(t, tbl.Put(ctx, []byte(fmt.Sprintf("%02d", i)), family, map[string][]byte{"seen": []byte(seen)}))
	}

	rows, err := backend.ScanAll(ctx, tbl, backend.ScanRequest{Family: family, Limit: 3})
	require.NoError(t, err)
	require.Equal(t, []string{"00", "01", "02"}, keysOf(rows))

	// The limit counts matching rows only.
	rows, err = backend.ScanAll(ctx, tbl, backend.ScanRequest{
		Family: family,
		Filter: backend.ColumnEquals("seen", []byte("0")),
		Limit:  2,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"01", "03"}, keysOf(rows))
}

func testOrderedIndex(t *testing.T, client backend.Client) {
	ctx := context.Background()
	idx := backend.NewOrderedIndex(client.Table(backend.TableMessages), client.Order())

	mboxID, otherID := imap.NewMailboxID(), imap.NewMailboxID()

	for uid := imap.UID(1); uid <= 10; uid++ {
		for _, id := range []imap.MailboxID{mboxID, otherID} {
			require.NoError(t, idx.Table().Put(ctx, idx.Key(id, uid), family, map[string][]byte{
				"uid": []byte(uid.String()),
			}))
		}
	}

	uidsOf := func(rows []backend.IndexedRow) []imap.UID {
		return xslices.Map(rows, func(row backend.IndexedRow) imap.UID { return row.UID })
	}

	rows, err := idx.Scan(ctx, mboxID, backend.IndexScan{From: 0, To: imap.UID(^uint32(0)), Family: family})
	require.NoError(t, err)
	require.Equal(t, []imap.UID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, uidsOf(rows))

	rows, err = idx.Scan(ctx, mboxID, backend.IndexScan{From: 3, To: 5, Family: family})
	require.NoError(t, err)
	require.Equal(t, []imap.UID{3, 4, 5}, uidsOf(rows))
	require.Equal(t, "4", rows[1].String("uid"))

	rows, err = idx.Scan(ctx, mboxID, backend.IndexScan{From: 4, To: 100, Family: family, Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []imap.UID{4, 5}, uidsOf(rows))

	rows, err = idx.Scan(ctx, mboxID, backend.IndexScan{From: 5, To: 4, Family: family})
	require.NoError(t, err)
	require.Empty(t, rows)
}
