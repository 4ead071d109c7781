package netstack

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Wire-format constants: Ethernet/ARP/IP/UDP headers packed big-endian
// with no padding.
const (
	ethAddrLen = 6

	ethTypeIP  = 0x0800
	ethTypeARP = 0x0806

	arpHrdEther = 1
	arpOpReply  = 2

	ipProtoUDP = 17

	ethHeaderLen = 14 // dhost(6) + shost(6) + type(2)
	ipHeaderLen  = 20 // vhl..dst, no options
	udpHeaderLen = 8
	arpLen       = 28 // hrd/pro/hln/pln/op(8) + sha(6) + sip(4) + tha(6) + tip(4)
)

// MAC is a 6-byte Ethernet address.
type MAC [ethAddrLen]byte

// IP is an IPv4 address held in host byte order.
type IP uint32

// MakeIP builds a host-order IP address from its four octets.
func MakeIP(a, b, c, d byte) IP {
	return IP(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d))
}

func (ip IP) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(ip>>24), byte(ip>>16), byte(ip>>8), byte(ip))
}

// ParseIP parses a dotted-quad string into a host-order IP, for config
// loading and the REPL's `send` command.
func ParseIP(s string) (IP, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return 0, fmt.Errorf("netstack: malformed IPv4 address %q", s)
	}
	var octets [4]byte
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return 0, fmt.Errorf("netstack: malformed IPv4 address %q", s)
		}
		octets[i] = byte(n)
	}
	return MakeIP(octets[0], octets[1], octets[2], octets[3]), nil
}

// String renders a MAC in the conventional colon-separated hex form.
func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ParseMAC parses a colon-separated hex MAC address, for config loading.
func ParseMAC(s string) (MAC, error) {
	parts := strings.Split(s, ":")
	if len(parts) != ethAddrLen {
		return MAC{}, fmt.Errorf("netstack: malformed MAC address %q", s)
	}
	var m MAC
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return MAC{}, fmt.Errorf("netstack: malformed MAC address %q", s)
		}
		m[i] = byte(n)
	}
	return m, nil
}

// putEth writes an Ethernet header at the start of buf.
func putEth(buf []byte, dhost, shost MAC, typ uint16) {
	copy(buf[0:6], dhost[:])
	copy(buf[6:12], shost[:])
	binary.BigEndian.PutUint16(buf[12:14], typ)
}

func getEth(buf []byte) (dhost, shost MAC, typ uint16) {
	copy(dhost[:], buf[0:6])
	copy(shost[:], buf[6:12])
	typ = binary.BigEndian.Uint16(buf[12:14])
	return
}

// putIP writes an IPv4 header (no options) at buf[0:ipHeaderLen] and fills
// in its checksum.
func putIP(buf []byte, proto byte, src, dst IP, payloadLen int) {
	buf[0] = 0x45 // version 4, IHL 5 words
	buf[1] = 0    // tos
	binary.BigEndian.PutUint16(buf[2:4], uint16(ipHeaderLen+payloadLen))
	binary.BigEndian.PutUint16(buf[4:6], 0) // id
	binary.BigEndian.PutUint16(buf[6:8], 0) // frag offset/flags
	buf[8] = 100                            // ttl
	buf[9] = proto
	binary.BigEndian.PutUint16(buf[10:12], 0) // checksum placeholder
	binary.BigEndian.PutUint32(buf[12:16], uint32(src))
	binary.BigEndian.PutUint32(buf[16:20], uint32(dst))
	sum := checksum(buf[:ipHeaderLen])
	binary.BigEndian.PutUint16(buf[10:12], sum)
}

func getIP(buf []byte) (proto byte, src, dst IP, totalLen uint16) {
	totalLen = binary.BigEndian.Uint16(buf[2:4])
	proto = buf[9]
	src = IP(binary.BigEndian.Uint32(buf[12:16]))
	dst = IP(binary.BigEndian.Uint32(buf[16:20]))
	return
}

func putUDP(buf []byte, sport, dport uint16, payloadLen int) {
	binary.BigEndian.PutUint16(buf[0:2], sport)
	binary.BigEndian.PutUint16(buf[2:4], dport)
	binary.BigEndian.PutUint16(buf[4:6], uint16(udpHeaderLen+payloadLen))
	binary.BigEndian.PutUint16(buf[6:8], 0) // UDP checksum intentionally left unset
}

func getUDP(buf []byte) (sport, dport, ulen uint16) {
	sport = binary.BigEndian.Uint16(buf[0:2])
	dport = binary.BigEndian.Uint16(buf[2:4])
	ulen = binary.BigEndian.Uint16(buf[4:6])
	return
}

func putARPReply(buf []byte, local MAC, localIP IP, queryerMAC MAC, queryerIP IP) {
	binary.BigEndian.PutUint16(buf[0:2], arpHrdEther)
	binary.BigEndian.PutUint16(buf[2:4], ethTypeIP)
	buf[4] = ethAddrLen
	buf[5] = 4
	binary.BigEndian.PutUint16(buf[6:8], arpOpReply)
	copy(buf[8:14], local[:])
	binary.BigEndian.PutUint32(buf[14:18], uint32(localIP))
	copy(buf[18:24], queryerMAC[:])
	binary.BigEndian.PutUint32(buf[24:28], uint32(queryerIP))
}

func getARPSenderIP(buf []byte) IP {
	return IP(binary.BigEndian.Uint32(buf[14:18]))
}

// checksum computes the IPv4 one's-complement header checksum, the classic
// in_cksum algorithm lifted from FreeBSD's ping.c.
func checksum(b []byte) uint16 {
	var sum uint32
	n := len(b)
	i := 0
	for ; n > 1; n -= 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
		i += 2
	}
	if n == 1 {
		sum += uint32(b[i]) << 8
	}
	sum = (sum & 0xffff) + (sum >> 16)
	sum += sum >> 16
	return ^uint16(sum)
}
