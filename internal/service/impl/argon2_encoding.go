package impl

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"auth/internal/domain"

	"golang.org/x/crypto/argon2"
)

const algoArgon2id = "argon2id"

// Upper bounds for parameters read back from storage, so a tampered record
// cannot ask for an unbounded derivation.
const (
	maxStoredTime      = 64
	maxStoredMemoryKiB = 1 << 20 // 1 GiB
	maxStoredKeyLen    = 1024
	minStoredKeyLen    = 16
	minStoredSaltLen   = 8
)

var b64 = base64.RawStdEncoding.Strict()

// encodeArgon2id renders the PHC string
// $argon2id$v=19$m=<KiB>,t=<time>,p=<threads>$<salt>$<key>.
func encodeArgon2id(p Argon2Params, salt, key []byte) string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algoArgon2id, argon2.Version,
		p.Memory, p.Time, p.Threads,
		b64.EncodeToString(salt), b64.EncodeToString(key))
}

// decodeArgon2id parses a PHC string. SaltLen and KeyLen in the returned
// params are the decoded byte lengths.
func decodeArgon2id(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, corrupt("expected 5 fields")
	}
	if parts[1] != algoArgon2id {
		return p, nil, nil, corrupt("unsupported algorithm %q", parts[1])
	}

	v, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return p, nil, nil, corrupt("missing version")
	}
	version, err := strconv.Atoi(v)
	if err != nil || version != argon2.Version {
		return p, nil, nil, corrupt("unsupported version %q", v)
	}

	if err := parseCost(parts[3], &p); err != nil {
		return p, nil, nil, err
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, corrupt("salt: %v", err)
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return p, nil, nil, corrupt("hash: %v", err)
	}
	if len(salt) < minStoredSaltLen {
		return p, nil, nil, corrupt("salt too short")
	}
	if len(key) < minStoredKeyLen || len(key) > maxStoredKeyLen {
		return p, nil, nil, corrupt("hash length %d out of range", len(key))
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

func parseCost(s string, p *Argon2Params) error {
	fields := strings.Split(s, ",")
	if len(fields) != 3 {
		return corrupt("expected m,t,p parameters")
	}
	var m, t, threads uint64
	targets := []struct {
		name string
		bits int
		dst  *uint64
	}{
		{"m", 32, &m},
		{"t", 32, &t},
		{"p", 8, &threads},
	}
	for i, tgt := range targets {
		val, ok := strings.CutPrefix(fields[i], tgt.name+"=")
		if !ok {
			return corrupt("missing %s parameter", tgt.name)
		}
		n, err := strconv.ParseUint(val, 10, tgt.bits)
		if err != nil {
			return corrupt("parameter %s: %v", tgt.name, err)
		}
		*tgt.dst = n
	}
	if t == 0 || t > maxStoredTime {
		return corrupt("time cost %d out of range", t)
	}
	if threads == 0 {
		return corrupt("parallelism must be positive")
	}
	if m < 8*threads || m > maxStoredMemoryKiB {
		return corrupt("memory cost %d out of range", m)
	}
	p.Memory = uint32(m)
	p.Time = uint32(t)
	p.Threads = uint8(threads)
	return nil
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrCorruptRecord, fmt.Sprintf(format, args...))
}
