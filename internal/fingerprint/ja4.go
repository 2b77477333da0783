// Package fingerprint derives the canonical JA4 signature string from
// a parsed Client Hello.
package fingerprint

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/ccie14019/shadow-ai-signatures/internal/clienthello"
)

const emptyHash = "000000000000"

// JA4 computes the full JA4 fingerprint from a parsed Client Hello.
// Format: JA4_a_JA4_b_JA4_c, e.g. "t13d1516h2_8daaf6152771_02713d6af862".
//
// The transform is pure and deterministic: two Client Hellos that are
// identical modulo GREASE placement and record boundaries produce the
// same string.
//
// Reference: https://github.com/FoxIO-LLC/ja4/blob/main/technical_details/JA4.md
func JA4(rec *clienthello.Record) string {
	a := JA4_a(rec)
	b := JA4_b(rec)
	c := JA4_c(rec)

	return fmt.Sprintf("%s_%s_%s", a, b, c)
}

// JA4_a computes the human-readable descriptor.
// Format: {protocol}{version}{sni}{cipher_count}{ext_count}{alpn}
//
// Example: t13d1516h2 (TCP, TLS 1.3, SNI present, 15 ciphers,
// 16 extensions, ALPN h2)
func JA4_a(rec *clienthello.Record) string {
	// Only the TCP Client Hello direction is in scope, so the
	// transport character is fixed.
	protocol := "t"
	version := versionCode(rec.Version)
	sni := sniFlag(rec)
	cipherCount := countCapped(len(rec.CipherSuites))
	extCount := countCapped(rec.ExtensionCount)
	alpn := alpnCode(rec.ALPN)

	return fmt.Sprintf("%s%s%s%02d%02d%s", protocol, version, sni, cipherCount, extCount, alpn)
}

// JA4_b computes the cipher fingerprint.
// SHA256 hash of the numerically sorted cipher-suite list rendered as
// comma-joined 4-digit hex, truncated to 12 hex chars.
// Returns "000000000000" for an empty cipher list.
func JA4_b(rec *clienthello.Record) string {
	ciphers := make([]uint16, len(rec.CipherSuites))
	copy(ciphers, rec.CipherSuites)
	sort.Slice(ciphers, func(i, j int) bool { return ciphers[i] < ciphers[j] })

	data := hexJoin(ciphers)
	if data == "" {
		return emptyHash
	}
	return truncatedSHA256(data)
}

// JA4_c computes the extension fingerprint: the sorted extension-type
// list (SNI and ALPN excluded, per the published format) followed by
// the signature-algorithms list in wire order, joined by "_".
// Signature-algorithm order is a distinguishing signal and is never
// sorted. Returns "000000000000" when both lists are empty.
func JA4_c(rec *clienthello.Record) string {
	exts := make([]uint16, 0, len(rec.Extensions))
	for _, ext := range rec.Extensions {
		if ext == 0 || ext == 16 { // SNI, ALPN
			continue
		}
		exts = append(exts, ext)
	}
	sort.Slice(exts, func(i, j int) bool { return exts[i] < exts[j] })

	data := hexJoin(exts)
	if sigAlgs := hexJoin(rec.SignatureAlgorithms); sigAlgs != "" {
		data = data + "_" + sigAlgs
	}
	if data == "" {
		return emptyHash
	}
	return truncatedSHA256(data)
}

// versionCode maps the highest offered protocol version to its
// two-character code. The enumeration is fixed by the published
// format; unknown values map to "00" rather than a guess.
func versionCode(version uint16) string {
	switch version {
	case 0x0304:
		return "13"
	case 0x0303:
		return "12"
	case 0x0302:
		return "11"
	case 0x0301:
		return "10"
	case 0x0300:
		return "s3"
	default:
		return "00"
	}
}

// sniFlag returns "d" when a domain was sent, "i" for IP-only/absent.
func sniFlag(rec *clienthello.Record) string {
	if rec.SNI != "" {
		return "d"
	}
	return "i"
}

// countCapped caps list counts at 99 so they fit two digits.
func countCapped(n int) int {
	if n > 99 {
		return 99
	}
	return n
}

// alpnCode returns the first and last character of the first ALPN
// value ("h2" -> "h2", "http/1.1" -> "h1"), or "00" when ALPN is
// absent. Non-alphanumeric bytes fall back to their hex nibbles.
func alpnCode(alpn []string) string {
	if len(alpn) == 0 || alpn[0] == "" {
		return "00"
	}
	proto := alpn[0]
	first := proto[0]
	last := proto[len(proto)-1]
	if isAlphanumeric(first) && isAlphanumeric(last) {
		return string(first) + string(last)
	}
	firstHex := fmt.Sprintf("%02x", first)
	lastHex := fmt.Sprintf("%02x", last)
	return string(firstHex[0]) + string(lastHex[1])
}

func isAlphanumeric(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// hexJoin renders identifiers as comma-joined 4-digit lowercase hex.
func hexJoin(vals []uint16) string {
	if len(vals) == 0 {
		return ""
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = fmt.Sprintf("%04x", v)
	}
	return strings.Join(parts, ",")
}

// truncatedSHA256 computes SHA256 and returns the first 12 hex chars.
func truncatedSHA256(data string) string {
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)[:12]
}
