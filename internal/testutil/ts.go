// Package testutil provides canned transport stream builders and fake
// recorder/player collaborators for tests.
package testutil

// TS packet and PES construction helpers. The builders produce exactly
// the byte layouts the indexer parses: 188-byte packets, PES headers with
// optional PTS, and codec payloads containing picture headers or NAL
// units.

// TSPacketOpts controls one generated TS packet.
type TSPacketOpts struct {
	PID     int
	PUSI    bool
	Counter byte
	Payload []byte
}

// TSPacket builds one 188-byte packet, padding the payload with an
// adaptation field when it is shorter than 184 bytes.
func TSPacket(opts TSPacketOpts) []byte {
	pkt := make([]byte, 188)
	pkt[0] = 0x47
	pkt[1] = byte(opts.PID >> 8 & 0x1f)
	if opts.PUSI {
		pkt[1] |= 0x40
	}
	pkt[2] = byte(opts.PID)

	payload := opts.Payload
	if len(payload) > 184 {
		payload = payload[:184]
	}

	if len(payload) == 184 {
		pkt[3] = 0x10 | (opts.Counter & 0x0f) // payload only
		copy(pkt[4:], payload)
		return pkt
	}

	// Stuff an adaptation field so the payload ends the packet.
	pkt[3] = 0x30 | (opts.Counter & 0x0f)
	afLen := 183 - len(payload)
	pkt[4] = byte(afLen)
	if afLen > 0 {
		pkt[5] = 0x00
		for i := 6; i < 5+afLen; i++ {
			pkt[i] = 0xff
		}
	}
	copy(pkt[5+afLen:], payload)
	return pkt
}

// PESHeader builds a PES packet header with the given PTS (90 kHz).
// Pass pts < 0 for a header without a PTS.
func PESHeader(streamID byte, pts int64) []byte {
	if pts < 0 {
		return []byte{0x00, 0x00, 0x01, streamID, 0x00, 0x00, 0x80, 0x00, 0x00}
	}
	hdr := []byte{
		0x00, 0x00, 0x01, streamID,
		0x00, 0x00, // packet length (0: unbounded, video)
		0x80, // marker
		0x80, // PTS flag
		0x05, // header data length
		0, 0, 0, 0, 0,
	}
	hdr[9] = 0x21 | byte(pts>>29)&0x0e
	hdr[10] = byte(pts >> 22)
	hdr[11] = 0x01 | byte(pts>>14)&0xfe
	hdr[12] = byte(pts >> 7)
	hdr[13] = 0x01 | byte(pts<<1)&0xfe
	return hdr
}

// MPEG2IFrame returns an elementary stream chunk holding a picture header
// with picture_coding_type = I.
func MPEG2IFrame() []byte {
	// temporal_reference = 0, picture_coding_type = 1 (I).
	return []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x0f, 0xff, 0xf8}
}

// MPEG2PFrame returns a picture header with picture_coding_type = P.
func MPEG2PFrame() []byte {
	return []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x17, 0xff, 0xf8}
}

// H264IDR returns an Annex-B IDR NAL unit (nal_ref_idc = 3).
func H264IDR() []byte {
	return []byte{0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0x00, 0x01, 0x09, 0x10}
}

// H264NonRef returns an Annex-B non-IDR slice with nal_ref_idc = 0.
func H264NonRef() []byte {
	return []byte{0x00, 0x00, 0x01, 0x01, 0x9a, 0x24, 0x00, 0x00, 0x01, 0x09, 0x10}
}

// HEVCIDR returns an Annex-B IDR_W_RADL NAL unit (type 19).
func HEVCIDR() []byte {
	return []byte{0x00, 0x00, 0x01, 0x26, 0x01, 0xaf, 0x00, 0x00, 0x01, 0x4e, 0x01}
}

// Packetize splits one PES payload into TS packets on the given PID, the
// first carrying PUSI. Every packet is full 188 bytes.
func Packetize(pid int, pes []byte) []byte {
	var out []byte
	counter := byte(0)
	first := true
	for len(pes) > 0 {
		n := len(pes)
		if n > 184 {
			n = 184
		}
		out = append(out, TSPacket(TSPacketOpts{
			PID:     pid,
			PUSI:    first,
			Counter: counter,
			Payload: pes[:n],
		})...)
		pes = pes[n:]
		first = false
		counter++
	}
	return out
}

// NullPackets returns n packets on the null PID.
func NullPackets(n int) []byte {
	var out []byte
	for i := 0; i < n; i++ {
		out = append(out, TSPacket(TSPacketOpts{PID: 0x1fff, Counter: byte(i), Payload: []byte{0xff}})...)
	}
	return out
}
