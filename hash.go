package tablecache

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/hashstructure/v2"
)

// ErrNotHashable is returned by hash functions for arguments that have no
// stable representation, such as funcs or channels.
var ErrNotHashable = errors.New("argument not hashable")

func defaultHashFunc(callSite string, args []driver.NamedValue) (string, error) {
	u64, err := hashstructure.Hash(struct {
		CallSite string
		Args     []driver.NamedValue
	}{
		CallSite: callSite,
		Args:     args,
	}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotHashable, err)
	}

	key := fmt.Sprintf("c%sa%dh%s", callSite, len(args), strconv.FormatUint(u64, 10))
	return key, nil
}

// NoopHash returns a readable string representation of the call site and
// args. Each value is tagged with its type and strings are quoted, so that
// distinct arguments never share a key. Arguments without a stable
// representation are rejected.
func NoopHash(callSite string, args []driver.NamedValue) (string, error) {
	var b strings.Builder
	b.Grow(len(callSite) + len(args)*16) // arbitrary
	b.WriteString(callSite)
	b.WriteRune(':')
	for i, arg := range args {
		var repr string
		switch v := arg.Value.(type) {
		case nil:
			repr = "nil"
		case int64, float64, bool:
			repr = fmt.Sprintf("%T:%v", v, v)
		case string:
			repr = "string:" + strconv.Quote(v)
		case []byte:
			repr = "bytes:" + strconv.Quote(string(v))
		case fmt.Stringer:
			repr = fmt.Sprintf("%T:%s", v, strconv.Quote(v.String()))
		default:
			return "", fmt.Errorf("%w: %T at position %d", ErrNotHashable, arg.Value, arg.Ordinal)
		}
		if i > 0 {
			b.WriteRune(',')
		}
		b.WriteString(fmt.Sprintf("%s%d=%s", arg.Name, arg.Ordinal, repr))
	}

	return b.String(), nil
}
