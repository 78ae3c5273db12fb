package pfwall

import "encoding/binary"

func buildTCPPacket(srcIP, dstIP IPv4, srcPort, dstPort uint16, flags uint8) []byte {
	packet := make([]byte, 40)

	packet[0] = 0x45
	binary.BigEndian.PutUint16(packet[2:4], 40)
	packet[8] = 64
	packet[9] = ProtocolTCP
	copy(packet[12:16], srcIP[:])
	copy(packet[16:20], dstIP[:])

	binary.BigEndian.PutUint16(packet[20:22], srcPort)
	binary.BigEndian.PutUint16(packet[22:24], dstPort)
	packet[32] = 0x50
	packet[33] = flags

	ipChecksum := calculateIPv4Checksum(packet[:20])
	binary.BigEndian.PutUint16(packet[10:12], ipChecksum)

	tcpChecksum := calculateTCPChecksum(srcIP, dstIP, packet[20:])
	binary.BigEndian.PutUint16(packet[36:38], tcpChecksum)

	return packet
}

func buildUDPPacket(srcIP, dstIP IPv4, srcPort, dstPort uint16, data []byte) []byte {
	totalLen := 20 + 8 + len(data)
	packet := make([]byte, totalLen)

	packet[0] = 0x45
	binary.BigEndian.PutUint16(packet[2:4], uint16(totalLen))
	packet[8] = 64
	packet[9] = ProtocolUDP
	copy(packet[12:16], srcIP[:])
	copy(packet[16:20], dstIP[:])

	binary.BigEndian.PutUint16(packet[20:22], srcPort)
	binary.BigEndian.PutUint16(packet[22:24], dstPort)
	binary.BigEndian.PutUint16(packet[24:26], uint16(8+len(data)))
	if len(data) > 0 {
		copy(packet[28:], data)
	}

	ipChecksum := calculateIPv4Checksum(packet[:20])
	binary.BigEndian.PutUint16(packet[10:12], ipChecksum)

	udpChecksum := calculateUDPChecksum(srcIP, dstIP, packet[20:])
	binary.BigEndian.PutUint16(packet[26:28], udpChecksum)

	return packet
}

func buildICMPPacket(srcIP, dstIP IPv4, icmpType, code uint8, id, seq uint16) []byte {
	packet := make([]byte, 28)

	packet[0] = 0x45
	binary.BigEndian.PutUint16(packet[2:4], 28)
	packet[8] = 64
	packet[9] = ProtocolICMP
	copy(packet[12:16], srcIP[:])
	copy(packet[16:20], dstIP[:])

	packet[20] = icmpType
	packet[21] = code
	binary.BigEndian.PutUint16(packet[24:26], id)
	binary.BigEndian.PutUint16(packet[26:28], seq)

	ipChecksum := calculateIPv4Checksum(packet[:20])
	binary.BigEndian.PutUint16(packet[10:12], ipChecksum)

	icmpChecksum := calculateICMPChecksum(packet[20:])
	binary.BigEndian.PutUint16(packet[22:24], icmpChecksum)

	return packet
}

func verifyIPv4Checksum(packet []byte) bool {
	if len(packet) < 20 {
		return false
	}
	return calculateIPv4Checksum(packet[:20]) == 0
}

func verifyUDPChecksum(packet []byte) bool {
	if len(packet) < 28 {
		return false
	}
	srcIP := IPv4{packet[12], packet[13], packet[14], packet[15]}
	dstIP := IPv4{packet[16], packet[17], packet[18], packet[19]}
	return calculateUDPChecksum(srcIP, dstIP, packet[20:]) == 0
}
