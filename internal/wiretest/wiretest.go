// Package wiretest builds synthetic TLS handshake bytes and pcap
// captures for tests, so the pipeline can be exercised against fixed
// vectors with no capture tooling present.
package wiretest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Extension is one raw extension in wire order.
type Extension struct {
	Type uint16
	Data []byte
}

// HelloSpec describes a Client Hello to synthesize.
type HelloSpec struct {
	LegacyVersion uint16 // zero defaults to TLS 1.2
	SessionID     []byte
	Ciphers       []uint16
	Extensions    []Extension
}

// Message renders the handshake message, header included.
func (s HelloSpec) Message() []byte {
	version := s.LegacyVersion
	if version == 0 {
		version = 0x0303
	}

	var body []byte
	body = appendUint16(body, version)
	body = append(body, make([]byte, 32)...) // random
	body = append(body, byte(len(s.SessionID)))
	body = append(body, s.SessionID...)

	body = appendUint16(body, uint16(2*len(s.Ciphers)))
	for _, c := range s.Ciphers {
		body = appendUint16(body, c)
	}

	body = append(body, 1, 0) // compression methods: null only

	var exts []byte
	for _, e := range s.Extensions {
		exts = appendUint16(exts, e.Type)
		exts = appendUint16(exts, uint16(len(e.Data)))
		exts = append(exts, e.Data...)
	}
	body = appendUint16(body, uint16(len(exts)))
	body = append(body, exts...)

	msg := []byte{1, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}
	return append(msg, body...)
}

// SNI builds a server_name extension with one host_name entry.
func SNI(host string) Extension {
	var entry []byte
	entry = append(entry, 0) // host_name
	entry = appendUint16(entry, uint16(len(host)))
	entry = append(entry, host...)

	var data []byte
	data = appendUint16(data, uint16(len(entry)))
	data = append(data, entry...)
	return Extension{Type: 0, Data: data}
}

// ALPN builds an application_layer_protocol_negotiation extension.
func ALPN(protos ...string) Extension {
	var list []byte
	for _, p := range protos {
		list = append(list, byte(len(p)))
		list = append(list, p...)
	}
	var data []byte
	data = appendUint16(data, uint16(len(list)))
	data = append(data, list...)
	return Extension{Type: 16, Data: data}
}

// SupportedVersions builds a supported_versions extension.
func SupportedVersions(vers ...uint16) Extension {
	var list []byte
	for _, v := range vers {
		list = appendUint16(list, v)
	}
	data := append([]byte{byte(len(list))}, list...)
	return Extension{Type: 43, Data: data}
}

// SupportedGroups builds a supported_groups extension.
func SupportedGroups(groups ...uint16) Extension {
	return Extension{Type: 10, Data: uint16Vector(groups)}
}

// SignatureAlgorithms builds a signature_algorithms extension.
func SignatureAlgorithms(algs ...uint16) Extension {
	return Extension{Type: 13, Data: uint16Vector(algs)}
}

// Record wraps a payload chunk in one TLS record.
func Record(contentType byte, payload []byte) []byte {
	out := []byte{contentType, 0x03, 0x03}
	out = appendUint16(out, uint16(len(payload)))
	return append(out, payload...)
}

// HandshakeRecords splits a handshake message into records of at most
// chunk payload bytes each. chunk <= 0 yields a single record.
func HandshakeRecords(msg []byte, chunk int) []byte {
	if chunk <= 0 || chunk >= len(msg) {
		return Record(22, msg)
	}
	var out []byte
	for len(msg) > 0 {
		n := chunk
		if n > len(msg) {
			n = len(msg)
		}
		out = append(out, Record(22, msg[:n])...)
		msg = msg[n:]
	}
	return out
}

// Segment is one TCP payload to place in a synthetic capture.
type Segment struct {
	SrcIP, DstIP     string
	SrcPort, DstPort uint16
	Payload          []byte
}

// PCAP renders segments into a pcap file image, one frame per segment,
// in order.
func PCAP(segments ...Segment) ([]byte, error) {
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, err
	}

	ts := time.Unix(1700000000, 0)
	for i, seg := range segments {
		frame, err := ethernetFrame(seg)
		if err != nil {
			return nil, fmt.Errorf("wiretest: segment %d: %w", i, err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		if err := w.WritePacket(ci, frame); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func ethernetFrame(seg Segment) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		DstMAC:       net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(seg.SrcIP),
		DstIP:    net.ParseIP(seg.DstIP),
	}
	tcp := layers.TCP{
		SrcPort: layers.TCPPort(seg.SrcPort),
		DstPort: layers.TCPPort(seg.DstPort),
		PSH:     true,
		ACK:     true,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp, gopacket.Payload(seg.Payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func appendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

func uint16Vector(vals []uint16) []byte {
	var list []byte
	for _, v := range vals {
		list = appendUint16(list, v)
	}
	var data []byte
	data = appendUint16(data, uint16(len(list)))
	return append(data, list...)
}
