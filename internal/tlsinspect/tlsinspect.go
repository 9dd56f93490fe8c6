// Package tlsinspect reads the metadata TLS records expose without
// decrypting anything: record types, handshake message types, and the
// Server Name Indication extension of a ClientHello, plus structured
// record logging. No other package in this module imports it; the server
// does not select certificates by SNI.
package tlsinspect

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// TLS record types.
const (
	RecordTypeChangeCipherSpec = 20
	RecordTypeAlert            = 21
	RecordTypeHandshake        = 22
	RecordTypeApplicationData  = 23
	RecordTypeHeartbeat        = 24
)

// TLS handshake message types.
const (
	HandshakeTypeClientHello        = 1
	HandshakeTypeServerHello        = 2
	HandshakeTypeNewSessionTicket   = 4
	HandshakeTypeCertificate        = 11
	HandshakeTypeServerKeyExchange  = 12
	HandshakeTypeCertificateRequest = 13
	HandshakeTypeServerHelloDone    = 14
	HandshakeTypeClientKeyExchange  = 16
	HandshakeTypeFinished           = 20
)

// TLS record-layer version values.
const (
	VersionTLS10 = 0x0301
	VersionTLS11 = 0x0302
	VersionTLS12 = 0x0303
	VersionTLS13 = 0x0304
)

// ParseRecordHeader reads a TLS record's type, version, and payload length.
func ParseRecordHeader(data []byte) (recordType byte, version, length uint16, err error) {
	if len(data) < 5 {
		return 0, 0, 0, fmt.Errorf("tlsinspect: %d bytes too short for a record header", len(data))
	}
	return data[0], binary.BigEndian.Uint16(data[1:3]), binary.BigEndian.Uint16(data[3:5]), nil
}

// IsSessionTicketMessage reports whether data begins a NewSessionTicket
// handshake message.
func IsSessionTicketMessage(data []byte) bool {
	return len(data) >= 6 && data[0] == RecordTypeHandshake && data[5] == HandshakeTypeNewSessionTicket
}

func recordTypeName(t byte) string {
	switch t {
	case RecordTypeChangeCipherSpec:
		return "ChangeCipherSpec"
	case RecordTypeAlert:
		return "Alert"
	case RecordTypeHandshake:
		return "Handshake"
	case RecordTypeApplicationData:
		return "ApplicationData"
	case RecordTypeHeartbeat:
		return "Heartbeat"
	default:
		return "Unknown"
	}
}

func versionName(v uint16) string {
	switch v {
	case VersionTLS10:
		return "TLS1.0"
	case VersionTLS11:
		return "TLS1.1"
	case VersionTLS12:
		return "TLS1.2"
	case VersionTLS13:
		return "TLS1.3"
	default:
		return "Unknown"
	}
}

// LogRecord emits a structured debug-level log line describing one TLS
// record, for the rare case a relay needs to show its work.
func LogRecord(log *zap.Logger, data []byte, label string) {
	recordType, version, length, err := ParseRecordHeader(data)
	if err != nil {
		log.Debug("tls record too short to parse", zap.String("label", label), zap.Int("bytes", len(data)))
		return
	}
	log.Debug("tls record",
		zap.String("label", label),
		zap.String("type", recordTypeName(recordType)),
		zap.String("version", versionName(version)),
		zap.Uint16("length", length),
	)
}

// ExtractSNI pulls the Server Name Indication hostname out of a ClientHello
// record, walking the extension list by hand the way a middlebox that
// can't decrypt anything has to.
func ExtractSNI(clientHello []byte) (string, error) {
	if len(clientHello) < 43 {
		return "", errors.New("tlsinspect: client hello too short")
	}
	if clientHello[0] != RecordTypeHandshake {
		return "", errors.New("tlsinspect: not a handshake record")
	}
	if clientHello[5] != HandshakeTypeClientHello {
		return "", errors.New("tlsinspect: not a client hello message")
	}

	offset := 9 // record header(5) + handshake header(4)
	offset += 2 // client version
	offset += 32 // client random

	if offset+1 >= len(clientHello) {
		return "", errors.New("tlsinspect: truncated before session id length")
	}
	offset += 1 + int(clientHello[offset])

	if offset+2 >= len(clientHello) {
		return "", errors.New("tlsinspect: truncated before cipher suites length")
	}
	offset += 2 + int(binary.BigEndian.Uint16(clientHello[offset:offset+2]))

	if offset+1 >= len(clientHello) {
		return "", errors.New("tlsinspect: truncated before compression methods length")
	}
	offset += 1 + int(clientHello[offset])

	if offset+2 > len(clientHello) {
		return "", errors.New("tlsinspect: no extensions present")
	}
	extensionsLen := int(binary.BigEndian.Uint16(clientHello[offset : offset+2]))
	offset += 2
	if offset+extensionsLen > len(clientHello) {
		return "", errors.New("tlsinspect: extensions exceed message length")
	}

	end := offset + extensionsLen
	for offset < end {
		if offset+4 > len(clientHello) {
			return "", errors.New("tlsinspect: truncated extension header")
		}
		extType := binary.BigEndian.Uint16(clientHello[offset : offset+2])
		extLen := int(binary.BigEndian.Uint16(clientHello[offset+2 : offset+4]))
		offset += 4

		if extType != 0 { // server_name
			offset += extLen
			continue
		}

		if offset+2 > len(clientHello) {
			return "", errors.New("tlsinspect: truncated server name list length")
		}
		listLen := int(binary.BigEndian.Uint16(clientHello[offset : offset+2]))
		offset += 2
		if offset+listLen > len(clientHello) {
			return "", errors.New("tlsinspect: server name list exceeds message length")
		}
		listEnd := offset + listLen
		for offset < listEnd {
			if offset+3 > len(clientHello) {
				return "", errors.New("tlsinspect: truncated server name entry")
			}
			nameType := clientHello[offset]
			nameLen := int(binary.BigEndian.Uint16(clientHello[offset+1 : offset+3]))
			offset += 3
			if nameType != 0 { // host_name
				offset += nameLen
				continue
			}
			if offset+nameLen > len(clientHello) {
				return "", errors.New("tlsinspect: hostname exceeds message length")
			}
			return string(clientHello[offset : offset+nameLen]), nil
		}
		return "", errors.New("tlsinspect: no hostname in server name extension")
	}
	return "", errors.New("tlsinspect: no server name extension")
}
