// Package account defines the 32-byte account identifier carried through
// the registry and queues.
package account

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the byte length of an account id.
const Size = 32

// ID is a 32-byte account public key. Equality is byte-exact.
type ID [Size]byte

// DecodeError reports a stored or supplied value that is not a valid
// base58 account id.
type DecodeError struct {
	Value  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("account: cannot decode %q: %s", e.Value, e.Reason)
}

// Parse decodes the base58 text form of an account id.
func Parse(s string) (ID, error) {
	var id ID
	if s == "" {
		return id, &DecodeError{Value: s, Reason: "empty"}
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return id, &DecodeError{Value: s, Reason: err.Error()}
	}
	if len(raw) != Size {
		return id, &DecodeError{Value: s, Reason: fmt.Sprintf("decoded to %d bytes, want %d", len(raw), Size)}
	}
	copy(id[:], raw)
	return id, nil
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseAll decodes every value, stopping at the first failure.
func ParseAll(values []string) ([]ID, error) {
	out := make([]ID, 0, len(values))
	for _, v := range values {
		id, err := Parse(v)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// String returns the canonical base58 text.
func (id ID) String() string { return base58.Encode(id[:]) }

// IsZero reports whether every byte is zero.
func (id ID) IsZero() bool { return id == ID{} }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Strings renders ids in their wire form.
func Strings(ids []ID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
