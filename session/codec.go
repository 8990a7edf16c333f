package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"time"

	"github.com/marcjazz/authkestra/auth"
)

// Binary layout, big endian:
//
//	version:u8
//	provider_id, external_id, email, display_name: u16 length + bytes
//	created_at, expires_at: i64 unix milliseconds
//	v2+: attribute count u16, then (name, value) pairs as u16 length + bytes
//
// Decode reads every version up to formatVersionCurrent.
const (
	formatVersionCurrent = 2
	formatVersionV1      = 1
)

// ErrCorrupt is returned by Decode for undecodable records.
var ErrCorrupt = errors.New("session: corrupt record")

// Encode serializes s. The session id is not part of the record; backends
// key records by it.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(formatVersionCurrent)

	id := s.Identity
	for _, field := range []string{id.ProviderID(), id.ExternalID(), id.Email(), id.DisplayName()} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}

	attrs := id.Attributes()
	if len(attrs) > math.MaxUint16 {
		return nil, errors.New("too many identity attributes")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(attrs))); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := writeString(&buf, name); err != nil {
			return nil, err
		}
		if err := writeString(&buf, attrs[name]); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode and assigns it id.
func Decode(id string, data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, corrupt(err)
	}
	if version != formatVersionCurrent && version != formatVersionV1 {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorrupt, version)
	}

	fields := make([]string, 4)
	for i := range fields {
		if fields[i], err = readString(reader); err != nil {
			return nil, corrupt(err)
		}
	}
	var created, expires int64
	if err := binary.Read(reader, binary.BigEndian, &created); err != nil {
		return nil, corrupt(err)
	}
	if err := binary.Read(reader, binary.BigEndian, &expires); err != nil {
		return nil, corrupt(err)
	}

	var attrs map[string]string
	if version >= formatVersionCurrent {
		var count uint16
		if err := binary.Read(reader, binary.BigEndian, &count); err != nil {
			return nil, corrupt(err)
		}
		attrs = make(map[string]string, count)
		for range count {
			name, err := readString(reader)
			if err != nil {
				return nil, corrupt(err)
			}
			value, err := readString(reader)
			if err != nil {
				return nil, corrupt(err)
			}
			attrs[name] = value
		}
	}
	if reader.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, reader.Len())
	}

	identity, err := auth.NewIdentity(fields[0], fields[1],
		auth.WithEmail(fields[2]),
		auth.WithDisplayName(fields[3]),
		auth.WithAttributes(attrs),
	)
	if err != nil {
		return nil, corrupt(err)
	}
	return &Session{
		ID:        id,
		Identity:  identity,
		CreatedAt: time.UnixMilli(created),
		ExpiresAt: time.UnixMilli(expires),
	}, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrupt, err)
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
