// Package protocol holds the byte-level pieces shared by the board and
// its host: the CRC guarding stored records, the serial line reader and
// the drive command decoder.
package protocol

// CRC16 returns the CRC-16/MCRF4XX of data: the reflected CCITT
// polynomial, initial value 0xFFFF and no final xor.
func CRC16(data []byte) uint16 {
	return CRC16Update(0xFFFF, data)
}

// CRC16Update continues a CRC16 over more data.
func CRC16Update(crc uint16, data []byte) uint16 {
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		b16 := uint16(b)
		crc = (b16<<8 | crc>>8) ^ (b16 >> 4) ^ (b16 << 3)
	}
	return crc
}
