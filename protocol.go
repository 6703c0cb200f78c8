package s7

import (
	"encoding/binary"
)

const (
	// TPKT (RFC 1006)
	tpktVersion    = 0x03
	tpktHeaderSize = 4
	maxTPKTLength  = 0xFFFF

	// COTP (ISO 8073) PDU types
	cotpCR  = 0xE0
	cotpCC  = 0xD0
	cotpDT  = 0xF0
	cotpEOT = 0x80

	cotpParamTPDUSize = 0xC0
	cotpParamSrcTSAP  = 0xC1
	cotpParamDstTSAP  = 0xC2
	cotpTPDUSize1024  = 0x0A
	cotpLocalRef      = 0x0001

	// S7 header
	s7ProtocolID  = 0x32
	s7MsgJob      = 0x01
	s7MsgAckData  = 0x03
	jobHeaderSize = 10
	ackHeaderSize = 12

	// S7 functions
	s7FuncSetupComm = 0xF0
	s7FuncRead      = 0x04
	s7FuncWrite     = 0x05

	// S7ANY area codes
	areaCodeC  = 0x1C
	areaCodeT  = 0x1D
	areaCodeI  = 0x81
	areaCodeQ  = 0x82
	areaCodeM  = 0x83
	areaCodeDB = 0x84

	// S7ANY transport sizes
	tsBIT     = 0x01
	tsBYTE    = 0x02
	tsCOUNTER = 0x1C
	tsTIMER   = 0x1D

	// Data section transport sizes. Bit/byte/int lengths are counted in bits.
	dataTSBit   = 0x03
	dataTSByte  = 0x04
	dataTSInt   = 0x05
	dataTSOctet = 0x09

	s7AnySpecType = 0x12
	s7AnyLen      = 0x0A
	s7AnySyntaxID = 0x10
	s7AnyItemSize = 12

	// Bytes of a read response / write request that are not payload.
	readOverhead  = ackHeaderSize + 2 + 4
	writeOverhead = jobHeaderSize + 2 + s7AnyItemSize + 4

	DEFAULT_PDU_SIZE = 480
	MIN_PDU_SIZE     = 240
	MAX_PDU_SIZE     = 960
)

var dtHeader = []byte{0x02, cotpDT, cotpEOT}

func tpktFrame(payload []byte) []byte {
	frame := make([]byte, tpktHeaderSize+len(payload))
	frame[0] = tpktVersion
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(frame)))
	copy(frame[tpktHeaderSize:], payload)
	return frame
}

// buildConnectRequest returns the COTP connection request for the CPU at rack/slot.
func buildConnectRequest(rack, slot int) []byte {
	return []byte{
		17, // length indicator
		cotpCR,
		0x00, 0x00, // destination reference
		byte(cotpLocalRef >> 8), byte(cotpLocalRef),
		0x00, // class 0
		cotpParamTPDUSize, 1, cotpTPDUSize1024,
		cotpParamSrcTSAP, 2, 0x01, 0x00,
		cotpParamDstTSAP, 2, 0x01, byte(rack<<5 | slot),
	}
}

func parseConnectConfirm(payload []byte) error {
	if len(payload) < 7 {
		return errorf(KindProtocol, "connection confirm too short: %d bytes", len(payload))
	}
	if int(payload[0])+1 > len(payload) {
		return errorf(KindProtocol, "connection confirm length indicator %d exceeds frame", payload[0])
	}
	if payload[1]&0xF0 != cotpCC {
		return &Error{Kind: KindConnectFailed, Detail: "connection request not confirmed", Code: uint16(payload[1])}
	}
	return nil
}

func wrapDT(pdu []byte) []byte {
	out := make([]byte, 0, len(dtHeader)+len(pdu))
	out = append(out, dtHeader...)
	return append(out, pdu...)
}

func unwrapDT(payload []byte) ([]byte, error) {
	if len(payload) < 3 || int(payload[0])+1 > len(payload) {
		return nil, errorf(KindProtocol, "short COTP data frame: %d bytes", len(payload))
	}
	if payload[1] != cotpDT {
		return nil, errorf(KindProtocol, "unexpected COTP PDU type 0x%02X", payload[1])
	}
	return payload[payload[0]+1:], nil
}

func jobHeader(ref uint16, paramLen, dataLen int) []byte {
	h := make([]byte, jobHeaderSize)
	h[0] = s7ProtocolID
	h[1] = s7MsgJob
	binary.BigEndian.PutUint16(h[4:6], ref)
	binary.BigEndian.PutUint16(h[6:8], uint16(paramLen))
	binary.BigEndian.PutUint16(h[8:10], uint16(dataLen))
	return h
}

func buildSetupCommRequest(ref, pduSize uint16) []byte {
	params := []byte{
		s7FuncSetupComm, 0x00,
		0x00, 0x01, // max AmQ calling
		0x00, 0x01, // max AmQ called
		byte(pduSize >> 8), byte(pduSize),
	}
	return append(jobHeader(ref, len(params), 0), params...)
}

func parseSetupCommResponse(pdu []byte, ref uint16) (uint16, error) {
	params, _, err := parseAck(pdu, ref, s7FuncSetupComm)
	if err != nil {
		return 0, err
	}
	if len(params) < 8 {
		return 0, errorf(KindProtocol, "setup communication parameters too short: %d bytes", len(params))
	}
	size := binary.BigEndian.Uint16(params[6:8])
	if size == 0 {
		return 0, errorf(KindProtocol, "PLC negotiated a zero PDU size")
	}
	return size, nil
}

// anyItem encodes the S7ANY variable specification for a.
func anyItem(a Address) []byte {
	var (
		ts      byte = tsBYTE
		count        = a.Length
		bitAddr      = a.Offset * 8
	)
	switch {
	case a.Kind == ValueBit:
		ts = tsBIT
		count = 1
		bitAddr += a.Bit
	case a.Area == AreaT:
		ts = tsTIMER
		count = a.Length / 2
		bitAddr = a.Offset
	case a.Area == AreaC:
		ts = tsCOUNTER
		count = a.Length / 2
		bitAddr = a.Offset
	}
	db := 0
	if a.Area == AreaDB {
		db = a.DBNumber
	}
	return []byte{
		s7AnySpecType, s7AnyLen, s7AnySyntaxID,
		ts,
		byte(count >> 8), byte(count),
		byte(db >> 8), byte(db),
		a.Area.code(),
		byte(bitAddr >> 16), byte(bitAddr >> 8), byte(bitAddr),
	}
}

func buildReadRequest(ref uint16, a Address) []byte {
	params := append([]byte{s7FuncRead, 0x01}, anyItem(a)...)
	return append(jobHeader(ref, len(params), 0), params...)
}

// parseReadResponse extracts the single data item of a read response, which
// must be exactly want bytes long.
func parseReadResponse(pdu []byte, ref uint16, want int) ([]byte, error) {
	params, data, err := parseAck(pdu, ref, s7FuncRead)
	if err != nil {
		return nil, err
	}
	if len(params) < 2 || params[1] != 1 {
		return nil, errorf(KindProtocol, "read response carries an unexpected item count")
	}
	if len(data) < 1 {
		return nil, errorf(KindProtocol, "read response has no data item")
	}
	if data[0] != dataItemSuccess {
		return nil, dataItemErr(data[0])
	}
	if len(data) < 4 {
		return nil, errorf(KindProtocol, "read data item header too short")
	}
	n := dataItemLength(data[1], binary.BigEndian.Uint16(data[2:4]))
	if 4+n > len(data) {
		return nil, errorf(KindProtocol, "read data item truncated: %d of %d bytes", len(data)-4, n)
	}
	if n != want {
		return nil, errorf(KindProtocol, "read returned %d bytes, want %d", n, want)
	}
	out := make([]byte, n)
	copy(out, data[4:4+n])
	return out, nil
}

func dataItemLength(ts byte, length uint16) int {
	switch ts {
	case dataTSBit, dataTSByte, dataTSInt:
		return (int(length) + 7) / 8
	default:
		return int(length)
	}
}

func buildWriteRequest(ref uint16, a Address, payload []byte) []byte {
	params := append([]byte{s7FuncWrite, 0x01}, anyItem(a)...)

	var ts byte = dataTSByte
	length := len(payload) * 8
	switch {
	case a.Kind == ValueBit:
		ts = dataTSBit
		length = 1
	case a.Area.counted():
		ts = dataTSOctet
		length = len(payload)
	}
	data := make([]byte, 4, 4+len(payload))
	data[0] = 0x00
	data[1] = ts
	binary.BigEndian.PutUint16(data[2:4], uint16(length))
	data = append(data, payload...)

	out := append(jobHeader(ref, len(params), len(data)), params...)
	return append(out, data...)
}

func parseWriteResponse(pdu []byte, ref uint16) error {
	params, data, err := parseAck(pdu, ref, s7FuncWrite)
	if err != nil {
		return err
	}
	if len(params) < 2 || params[1] != 1 || len(data) < 1 {
		return errorf(KindProtocol, "write response carries an unexpected item count")
	}
	if data[0] != dataItemSuccess {
		return dataItemErr(data[0])
	}
	return nil
}

// parseAck validates an AckData header and splits off its parameter and data
// sections. A reference mismatch means the stream is out of step.
func parseAck(pdu []byte, ref uint16, fn byte) (params, data []byte, err error) {
	if len(pdu) < ackHeaderSize {
		return nil, nil, errorf(KindProtocol, "S7 response too short: %d bytes", len(pdu))
	}
	if pdu[0] != s7ProtocolID {
		return nil, nil, errorf(KindProtocol, "invalid protocol id 0x%02X", pdu[0])
	}
	if pdu[1] != s7MsgAckData {
		return nil, nil, errorf(KindProtocol, "unexpected message type 0x%02X", pdu[1])
	}
	if got := binary.BigEndian.Uint16(pdu[4:6]); got != ref {
		return nil, nil, errorf(KindProtocol, "PDU reference mismatch: got %d, want %d", got, ref)
	}
	paramLen := int(binary.BigEndian.Uint16(pdu[6:8]))
	dataLen := int(binary.BigEndian.Uint16(pdu[8:10]))
	if ackHeaderSize+paramLen+dataLen > len(pdu) {
		return nil, nil, errorf(KindProtocol, "S7 response lengths exceed frame")
	}
	if pdu[10] != 0 || pdu[11] != 0 {
		return nil, nil, headerError(pdu[10], pdu[11])
	}
	params = pdu[ackHeaderSize : ackHeaderSize+paramLen]
	if len(params) < 1 || params[0] != fn {
		return nil, nil, errorf(KindProtocol, "unexpected function in response, want 0x%02X", fn)
	}
	data = pdu[ackHeaderSize+paramLen : ackHeaderSize+paramLen+dataLen]
	return params, data, nil
}

// maxReadChunk and maxWriteChunk return how many payload bytes fit in one PDU.
func maxReadChunk(pdu int) int {
	return pdu - readOverhead
}

func maxWriteChunk(pdu int) int {
	return (pdu - writeOverhead) &^ 1
}

// Server side.

type s7Job struct {
	ref    uint16
	params []byte
	data   []byte
}

func parseJob(pdu []byte) (s7Job, error) {
	if len(pdu) < jobHeaderSize {
		return s7Job{}, errorf(KindProtocol, "S7 job too short: %d bytes", len(pdu))
	}
	if pdu[0] != s7ProtocolID || pdu[1] != s7MsgJob {
		return s7Job{}, errorf(KindProtocol, "not an S7 job: %02X %02X", pdu[0], pdu[1])
	}
	paramLen := int(binary.BigEndian.Uint16(pdu[6:8]))
	dataLen := int(binary.BigEndian.Uint16(pdu[8:10]))
	if jobHeaderSize+paramLen+dataLen > len(pdu) || paramLen < 1 {
		return s7Job{}, errorf(KindProtocol, "S7 job lengths exceed frame")
	}
	return s7Job{
		ref:    binary.BigEndian.Uint16(pdu[4:6]),
		params: pdu[jobHeaderSize : jobHeaderSize+paramLen],
		data:   pdu[jobHeaderSize+paramLen : jobHeaderSize+paramLen+dataLen],
	}, nil
}

func buildAck(ref uint16, class, code byte, params, data []byte) []byte {
	h := make([]byte, ackHeaderSize, ackHeaderSize+len(params)+len(data))
	h[0] = s7ProtocolID
	h[1] = s7MsgAckData
	binary.BigEndian.PutUint16(h[4:6], ref)
	binary.BigEndian.PutUint16(h[6:8], uint16(len(params)))
	binary.BigEndian.PutUint16(h[8:10], uint16(len(data)))
	h[10] = class
	h[11] = code
	h = append(h, params...)
	return append(h, data...)
}

func buildSetupCommResponse(ref, pduSize uint16) []byte {
	params := []byte{
		s7FuncSetupComm, 0x00,
		0x00, 0x01,
		0x00, 0x01,
		byte(pduSize >> 8), byte(pduSize),
	}
	return buildAck(ref, 0, 0, params, nil)
}

// buildConnectConfirm answers a COTP connection request.
func buildConnectConfirm(cr []byte) ([]byte, error) {
	if len(cr) < 7 || cr[1] != cotpCR || cr[0] < 6 || int(cr[0])+1 > len(cr) {
		return nil, errorf(KindProtocol, "not a COTP connection request")
	}
	cc := make([]byte, 0, len(cr))
	cc = append(cc, cr[0], cotpCC)
	cc = append(cc, cr[4], cr[5]) // their reference becomes our destination
	cc = append(cc, byte(cotpLocalRef>>8), byte(cotpLocalRef))
	cc = append(cc, 0x00)
	cc = append(cc, cr[7:int(cr[0])+1]...)
	return cc, nil
}

// varSpec is a decoded S7ANY item.
type varSpec struct {
	ts      byte
	count   int
	db      int
	area    byte
	bitAddr int
}

func parseVarSpec(b []byte) (varSpec, error) {
	if len(b) < s7AnyItemSize || b[0] != s7AnySpecType || b[2] != s7AnySyntaxID {
		return varSpec{}, errorf(KindProtocol, "unsupported variable specification")
	}
	return varSpec{
		ts:      b[3],
		count:   int(binary.BigEndian.Uint16(b[4:6])),
		db:      int(binary.BigEndian.Uint16(b[6:8])),
		area:    b[8],
		bitAddr: int(b[9])<<16 | int(b[10])<<8 | int(b[11]),
	}, nil
}

// address converts the item back into an Address. ok is false for areas or
// transport sizes this package does not model.
func (v varSpec) address() (Address, bool) {
	area, ok := areaFromCode(v.area)
	if !ok {
		return Address{}, false
	}
	a := Address{Area: area, Bit: NoBit, Kind: ValueBytes}
	if area == AreaDB {
		a.DBNumber = v.db
	}
	switch v.ts {
	case tsBIT:
		a.Offset = v.bitAddr >> 3
		a.Bit = v.bitAddr & 7
		a.Kind = ValueBit
		a.Length = 1
	case tsTIMER, tsCOUNTER:
		a.Offset = v.bitAddr
		a.Length = v.count * 2
	case tsBYTE:
		a.Offset = v.bitAddr >> 3
		a.Length = v.count
	default:
		return Address{}, false
	}
	return a, true
}
