// Package capture adapts packet-capture files into the ordered frame
// stream the reassembler consumes. It reads the pcap container format
// and extracts TCP payload bytes keyed by transport 4-tuple; it does
// not capture from live interfaces.
package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FlowKey identifies one transport session by its 4-tuple.
type FlowKey struct {
	SrcAddr string `json:"src_addr"`
	DstAddr string `json:"dst_addr"`
	SrcPort uint16 `json:"src_port"`
	DstPort uint16 `json:"dst_port"`
}

// String renders the 4-tuple as "src:port->dst:port".
func (k FlowKey) String() string {
	return fmt.Sprintf("%s:%d->%s:%d", k.SrcAddr, k.SrcPort, k.DstAddr, k.DstPort)
}

// Frame is one captured TCP segment payload in capture order.
// Immutable once produced.
type Frame struct {
	Seq     uint64 // monotonically increasing capture-order number
	Key     FlowKey
	Payload []byte
}

// Reader streams frames from a pcap container. Frames are emitted in
// capture order; non-TCP packets and empty segments are skipped.
type Reader struct {
	src  *gopacket.PacketSource
	port uint16
	seq  uint64
}

// NewReader wraps a pcap stream. If port is non-zero, only segments to
// or from that port are emitted (the capture tooling records whole
// interfaces, but only HTTPS flows matter for fingerprinting).
func NewReader(r io.Reader, port uint16) (*Reader, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("capture: read pcap header: %w", err)
	}
	return &Reader{
		src:  gopacket.NewPacketSource(pr, pr.LinkType()),
		port: port,
	}, nil
}

// Next returns the next TCP frame, or io.EOF when the capture is
// exhausted.
func (r *Reader) Next() (Frame, error) {
	for {
		pkt, err := r.src.NextPacket()
		if err != nil {
			if err == io.EOF {
				return Frame{}, io.EOF
			}
			return Frame{}, fmt.Errorf("capture: decode packet: %w", err)
		}

		netLayer := pkt.NetworkLayer()
		tcpLayer, ok := pkt.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if netLayer == nil || !ok {
			continue
		}
		if len(tcpLayer.Payload) == 0 {
			continue
		}

		srcPort := uint16(tcpLayer.SrcPort)
		dstPort := uint16(tcpLayer.DstPort)
		if r.port != 0 && srcPort != r.port && dstPort != r.port {
			continue
		}

		flow := netLayer.NetworkFlow()
		frame := Frame{
			Seq: r.seq,
			Key: FlowKey{
				SrcAddr: flow.Src().String(),
				DstAddr: flow.Dst().String(),
				SrcPort: srcPort,
				DstPort: dstPort,
			},
			Payload: tcpLayer.Payload,
		}
		r.seq++
		return frame, nil
	}
}

// ReadFile loads every TCP frame from a pcap file.
func ReadFile(path string, port uint16) ([]Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}
	defer f.Close()

	r, err := NewReader(f, port)
	if err != nil {
		return nil, err
	}

	var frames []Frame
	for {
		frame, err := r.Next()
		if err == io.EOF {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, frame)
	}
}
