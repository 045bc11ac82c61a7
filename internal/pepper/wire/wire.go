// Package wire implements PEPPER's on-air advertisement encoding: the
// sid/cid bit-packing and the 22-byte advertisement payload.
package wire

import (
	"encoding/binary"
	"fmt"
)

const (
	// ServiceUUID is the 16-bit BLE service UUID carried by every
	// PEPPER advertisement.
	ServiceUUID uint16 = 0x6666
	// VersionByte is the constant footer value identifying this wire
	// format revision.
	VersionByte byte = 0xC8
	// PayloadSize is the fixed length of the advertisement's service
	// data field.
	PayloadSize = 22

	maskCID  uint32 = 0x3FFFFFFF
	shiftSID        = 30
	maskSIDByte uint32 = 0b11
)

// Payload is the raw 22-byte advertisement service-data field.
type Payload [PayloadSize]byte

// EncodeSIDCID packs a 2-bit slice id and 30-bit connection id into the
// 32-bit value that is written big-endian onto the wire.
func EncodeSIDCID(sid uint8, cid uint32) uint32 {
	return (cid & maskCID) | ((uint32(sid) & maskSIDByte) << shiftSID)
}

// DecodeSIDCID unpacks the 32-bit wire header value (already read
// big-endian off the wire) into slice id and connection id.
func DecodeSIDCID(header uint32) (sid uint8, cid uint32) {
	sid = uint8((header >> shiftSID) & maskSIDByte)
	cid = header & maskCID
	return
}

// BuildPayload assembles the 22-byte advertisement payload: service UUID
// (2) ∥ sid_cid (4, big-endian) ∥ slice (12) ∥ version_byte (1) ∥
// tx_power (1) ∥ seed (2, little-endian).
func BuildPayload(sid uint8, cid uint32, slice [12]byte, txPower int8, seed uint16) Payload {
	var p Payload
	binary.BigEndian.PutUint16(p[0:2], ServiceUUID)
	binary.BigEndian.PutUint32(p[2:6], EncodeSIDCID(sid, cid))
	copy(p[6:18], slice[:])
	p[18] = VersionByte
	p[19] = byte(txPower)
	binary.LittleEndian.PutUint16(p[20:22], seed)
	return p
}

// ParsePayload validates and decodes a 22-byte advertisement payload.
func ParsePayload(p Payload) (sid uint8, cid uint32, slice [12]byte, txPower int8, seed uint16, err error) {
	if binary.BigEndian.Uint16(p[0:2]) != ServiceUUID {
		err = fmt.Errorf("wire: unexpected service uuid")
		return
	}
	if p[18] != VersionByte {
		err = fmt.Errorf("wire: unexpected version byte %#x", p[18])
		return
	}
	sid, cid = DecodeSIDCID(binary.BigEndian.Uint32(p[2:6]))
	copy(slice[:], p[6:18])
	txPower = int8(p[19])
	seed = binary.LittleEndian.Uint16(p[20:22])
	return
}
