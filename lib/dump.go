package lib

import (
	"github.com/Clouded-Sabre/stcp/logging"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// DecodeTCP parses a raw segment image with gopacket's TCP layer. STCP puts
// the header word count in the low nibble of the offset byte, so a copy with
// the TCP layout is decoded.
func DecodeTCP(b []byte) (*layers.TCP, error) {
	img := append([]byte(nil), b...)
	if len(img) > dataOffsetIndex {
		img[dataOffsetIndex] = (HeaderSize / 4) << 4
	}
	tcp := &layers.TCP{}
	if err := tcp.DecodeFromBytes(img, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}
	return tcp, nil
}

// DescribeTCP renders a decoded header in the packet-trace format.
func DescribeTCP(tcp *layers.TCP) string {
	return headerString(tcp.SYN, tcp.ACK, tcp.FIN, tcp.RST,
		uint16(tcp.SrcPort), uint16(tcp.DstPort), tcp.Checksum, tcp.Seq, tcp.Ack, tcp.Window)
}

// dump traces a datagram on the packet channel; dir is 's' or 'r'.
func dump(dir byte, b []byte) {
	if !logging.Enabled("packet") {
		return
	}
	tcp, err := DecodeTCP(b)
	if err != nil {
		logging.Log("packet", "%c undecodable segment (%d bytes): %v", dir, len(b), err)
		return
	}
	logging.Log("packet", "%c %s payload %d bytes", dir, DescribeTCP(tcp), len(tcp.Payload))
}
