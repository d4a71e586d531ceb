package packet

// CRC-16/CCITT-FALSE: polynomial 0x1021, initial value 0xFFFF.
const crcPolynomial uint32 = 0x1021

// Checksum computes the packet integrity checksum over data.
func Checksum(data []byte) uint16 {
	var crc uint32 = 0xFFFF
	for _, b := range data {
		crc ^= uint32(b) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
	}
	return uint16(crc & 0xFFFF)
}
