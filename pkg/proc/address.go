package proc

import (
	"fmt"
	"strconv"
	"strings"
)

// An Address is a location in the inferior's address space.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

// Add adds x to address a.
func (a Address) Add(x int64) Address {
	return a + Address(x)
}

// AlignDown rounds a down to a multiple of x.
// x must be a power of 2.
func (a Address) AlignDown(x int) Address {
	return a &^ (Address(x) - 1)
}

// overlaps reports whether [a, a+n) and [b, b+m) share at least one byte.
func (a Address) overlaps(n int, b Address, m int) bool {
	return a < b+Address(m) && b < a+Address(n)
}

// ParseAddress parses a base-16 address. The 0x prefix is optional.
func ParseAddress(s string) (Address, error) {
	t := strings.TrimSpace(s)
	t = strings.TrimPrefix(strings.TrimPrefix(t, "0x"), "0X")
	if t == "" {
		return 0, &MalformedArgumentError{Arg: s, Reason: "empty address"}
	}
	v, err := strconv.ParseUint(t, 16, 64)
	if err != nil {
		return 0, &MalformedArgumentError{Arg: s, Reason: "not a base-16 address"}
	}
	return Address(v), nil
}

// ParseWord parses a signed integer value. It is decimal unless it
// carries a 0x prefix, leading zeros do not select octal.
func ParseWord(s string) (int64, error) {
	t := strings.TrimSpace(s)
	neg := strings.HasPrefix(t, "-")
	digits := strings.TrimPrefix(t, "-")
	var (
		v   int64
		err error
	)
	if h := strings.TrimPrefix(strings.TrimPrefix(digits, "0x"), "0X"); h != digits {
		var u uint64
		u, err = strconv.ParseUint(h, 16, 64)
		v = int64(u)
		if neg {
			v = -v
		}
	} else {
		v, err = strconv.ParseInt(t, 10, 64)
	}
	if err != nil {
		return 0, &MalformedArgumentError{Arg: s, Reason: "not a signed integer"}
	}
	return v, nil
}
