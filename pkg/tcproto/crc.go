// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tcproto

// CalculateCRC computes the protocol CRC-16 over data.
//
// This is the reflected CCITT CRC (polynomial 0x8408, initial 0xFFFF),
// complemented, with the high and low bytes swapped at the end. The swap is
// part of the wire contract with the firmware and must not be removed.
func CalculateCRC(data []byte) uint16 {
	if len(data) == 0 {
		return ^uint16(crcInitial)
	}
	crc := uint16(crcInitial)
	for _, b := range data {
		crc = crcUpdate(crc, b)
	}
	return crcFinish(crc)
}

// crcUpdate shifts one byte, LSB first, through the CRC register.
func crcUpdate(crc uint16, b byte) uint16 {
	data := b
	for i := 0; i < 8; i++ {
		if (crc^uint16(data))&0x0001 != 0 {
			crc = (crc >> 1) ^ crcPolynomial
		} else {
			crc >>= 1
		}
		data >>= 1
	}
	return crc
}

// crcFinish complements the register and swaps its bytes.
func crcFinish(crc uint16) uint16 {
	crc = ^crc
	return crc<<8 | crc>>8
}

// packetCRC computes the CRC of frame as if its CRC field held zero,
// without modifying frame. len(frame) must be at least HeaderSize.
func packetCRC(frame []byte) uint16 {
	crc := uint16(crcInitial)
	for i, b := range frame {
		if i == OffCRC || i == OffCRC+1 {
			b = 0
		}
		crc = crcUpdate(crc, b)
	}
	return crcFinish(crc)
}
