package badger

import (
	"bytes"
	"fmt"
)

// Cells are flattened into single badger keys:
//
//	table 0x00 escape(row) 0x00 0x01 family 0x00 column
//
// Zero bytes of the row key are escaped as 0x00 0xff so that encoded keys sort like the raw row keys and
// the cells of a row stay contiguous.

var rowTerminator = []byte{0x00, 0x01}

func tablePrefix(table string) []byte {
	return append([]byte(table), 0x00)
}

func escapeRow(row []byte) []byte {
	res := make([]byte, 0, len(row)+len(rowTerminator))

	for _, b := range row {
		if b == 0x00 {
			res = append(res, 0x00, 0xff)
		} else {
			res = append(res, b)
		}
	}

	return res
}

func rowPrefix(table string, row []byte) []byte {
	key := tablePrefix(table)
	key = append(key, escapeRow(row)...)

	return append(key, rowTerminator...)
}

func cellKey(table string, row []byte, family, column string) []byte {
	key := rowPrefix(table, row)
	key = append(key, family...)
	key = append(key, 0x00)

	return append(key, column...)
}

// decodeCellKey splits a key of the given table into its row, family and column.
func decodeCellKey(table string, key []byte) ([]byte, string, string, error) {
	prefix := tablePrefix(table)

	if !bytes.HasPrefix(key, prefix) {
		return nil, "", "", fmt.Errorf("key outside of table %v", table)
	}

	rest := key[len(prefix):]

	var row []byte

	for i := 0; i < len(rest); i++ {
		if rest[i] != 0x00 {
			row = append(row, rest[i])
			continue
		}

		if i+1 >= len(rest) {
			return nil, "", "", fmt.Errorf("truncated row key")
		}

		switch rest[i+1] {
		case 0xff:
			row = append(row, 0x00)
			i++

		case 0x01:
			family, column, ok := bytes.Cut(rest[i+2:], []byte{0x00})
			if !ok {
				return nil, "", "", fmt.Errorf("missing column separator")
			}

			return row, string(family), string(column), nil

		default:
			return nil, "", "", fmt.Errorf("invalid escape sequence")
		}
	}

	return nil, "", "", fmt.Errorf("missing row terminator")
}
