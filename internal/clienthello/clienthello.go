// Package clienthello decodes a reassembled TLS Client Hello message
// into the structured form the fingerprint calculator consumes.
// GREASE values are filtered out of every list before they leave this
// package; letting them through would give the same client a different
// fingerprint on every connection.
package clienthello

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Extension type identifiers the parser extracts beyond the bare list.
const (
	extServerName          = 0
	extSupportedGroups     = 10
	extSignatureAlgorithms = 13
	extALPN                = 16
	extSupportedVersions   = 43
)

var (
	// ErrMalformedClientHello marks a truncated field or a length
	// field exceeding the remaining buffer.
	ErrMalformedClientHello = errors.New("clienthello: malformed client hello")

	// ErrUnsupportedClientHelloVariant marks a structurally valid
	// message outside the shape this parser understands. Surfaced
	// instead of guessing at a wrong-but-plausible fingerprint.
	ErrUnsupportedClientHelloVariant = errors.New("clienthello: unsupported client hello variant")
)

// Record is the immutable parse result for one Client Hello.
//
// CipherSuites and Extensions keep wire order with GREASE removed;
// Version is the highest value of the supported_versions extension
// when present, and the legacy field otherwise (modern clients pin
// the legacy field to TLS 1.2 for compatibility).
type Record struct {
	Version             uint16
	LegacyVersion       uint16
	CipherSuites        []uint16
	Extensions          []uint16
	ExtensionCount      int
	ALPN                []string
	SNI                 string
	SupportedGroups     []uint16
	SignatureAlgorithms []uint16
}

// Parse decodes a complete handshake message buffer (handshake header
// included) into a Record.
func Parse(raw []byte) (*Record, error) {
	s := cryptobyte.String(raw)

	var msgType uint8
	var body cryptobyte.String
	if !s.ReadUint8(&msgType) || !s.ReadUint24LengthPrefixed(&body) {
		return nil, fmt.Errorf("%w: handshake header", ErrMalformedClientHello)
	}
	if msgType != 1 {
		return nil, fmt.Errorf("%w: handshake type %d", ErrUnsupportedClientHelloVariant, msgType)
	}

	rec := &Record{}

	if !body.ReadUint16(&rec.LegacyVersion) {
		return nil, fmt.Errorf("%w: legacy version", ErrMalformedClientHello)
	}
	if rec.LegacyVersion < 0x0300 || rec.LegacyVersion > 0x0304 {
		return nil, fmt.Errorf("%w: legacy version %04x", ErrUnsupportedClientHelloVariant, rec.LegacyVersion)
	}
	rec.Version = rec.LegacyVersion

	// Random is not a fingerprint signal.
	if !body.Skip(32) {
		return nil, fmt.Errorf("%w: random", ErrMalformedClientHello)
	}

	var sessionID cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&sessionID) {
		return nil, fmt.Errorf("%w: session id", ErrMalformedClientHello)
	}

	var ciphers cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&ciphers) {
		return nil, fmt.Errorf("%w: cipher suites", ErrMalformedClientHello)
	}
	for !ciphers.Empty() {
		var suite uint16
		if !ciphers.ReadUint16(&suite) {
			return nil, fmt.Errorf("%w: cipher suite list", ErrMalformedClientHello)
		}
		if !IsGREASE(suite) {
			rec.CipherSuites = append(rec.CipherSuites, suite)
		}
	}

	var compression cryptobyte.String
	if !body.ReadUint8LengthPrefixed(&compression) {
		return nil, fmt.Errorf("%w: compression methods", ErrMalformedClientHello)
	}

	// SSL 3.0 / early hellos may omit the extensions block entirely.
	if body.Empty() {
		return rec, nil
	}

	var extensions cryptobyte.String
	if !body.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("%w: extensions block", ErrMalformedClientHello)
	}
	if !body.Empty() {
		return nil, fmt.Errorf("%w: trailing bytes after extensions", ErrUnsupportedClientHelloVariant)
	}

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, fmt.Errorf("%w: extension header", ErrMalformedClientHello)
		}

		if IsGREASE(extType) {
			continue
		}
		rec.Extensions = append(rec.Extensions, extType)

		var err error
		switch extType {
		case extServerName:
			err = parseServerName(extData, rec)
		case extSupportedGroups:
			err = parseSupportedGroups(extData, rec)
		case extSignatureAlgorithms:
			err = parseSignatureAlgorithms(extData, rec)
		case extALPN:
			err = parseALPN(extData, rec)
		case extSupportedVersions:
			err = parseSupportedVersions(extData, rec)
		}
		if err != nil {
			return nil, err
		}
	}

	rec.ExtensionCount = len(rec.Extensions)
	return rec, nil
}

func parseServerName(data cryptobyte.String, rec *Record) error {
	var list cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&list) {
		return fmt.Errorf("%w: server name list", ErrMalformedClientHello)
	}
	for !list.Empty() {
		var nameType uint8
		var name cryptobyte.String
		if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
			return fmt.Errorf("%w: server name entry", ErrMalformedClientHello)
		}
		// First host_name entry wins.
		if nameType == 0 && rec.SNI == "" {
			rec.SNI = string(name)
		}
	}
	return nil
}

func parseSupportedGroups(data cryptobyte.String, rec *Record) error {
	var groups cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&groups) {
		return fmt.Errorf("%w: supported groups", ErrMalformedClientHello)
	}
	for !groups.Empty() {
		var group uint16
		if !groups.ReadUint16(&group) {
			return fmt.Errorf("%w: supported groups list", ErrMalformedClientHello)
		}
		if !IsGREASE(group) {
			rec.SupportedGroups = append(rec.SupportedGroups, group)
		}
	}
	return nil
}

func parseSignatureAlgorithms(data cryptobyte.String, rec *Record) error {
	var algs cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&algs) {
		return fmt.Errorf("%w: signature algorithms", ErrMalformedClientHello)
	}
	for !algs.Empty() {
		var alg uint16
		if !algs.ReadUint16(&alg) {
			return fmt.Errorf("%w: signature algorithms list", ErrMalformedClientHello)
		}
		rec.SignatureAlgorithms = append(rec.SignatureAlgorithms, alg)
	}
	return nil
}

func parseALPN(data cryptobyte.String, rec *Record) error {
	var protos cryptobyte.String
	if !data.ReadUint16LengthPrefixed(&protos) {
		return fmt.Errorf("%w: alpn protocol list", ErrMalformedClientHello)
	}
	for !protos.Empty() {
		var proto cryptobyte.String
		if !protos.ReadUint8LengthPrefixed(&proto) {
			return fmt.Errorf("%w: alpn protocol entry", ErrMalformedClientHello)
		}
		rec.ALPN = append(rec.ALPN, string(proto))
	}
	return nil
}

func parseSupportedVersions(data cryptobyte.String, rec *Record) error {
	var versions cryptobyte.String
	if !data.ReadUint8LengthPrefixed(&versions) {
		return fmt.Errorf("%w: supported versions", ErrMalformedClientHello)
	}
	// When the extension is present, the legacy field is ignored; the
	// highest non-GREASE value listed here wins even if it is lower.
	var highest uint16
	for !versions.Empty() {
		var ver uint16
		if !versions.ReadUint16(&ver) {
			return fmt.Errorf("%w: supported versions list", ErrMalformedClientHello)
		}
		if !IsGREASE(ver) && ver > highest {
			highest = ver
		}
	}
	if highest != 0 {
		rec.Version = highest
	}
	return nil
}
