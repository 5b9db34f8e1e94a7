package testutil

// Minimal PAT/PMT section builders so synthetic streams are complete
// enough for PSI-aware parsers.

// CRC32MPEG computes the MPEG-2 PSI CRC (poly 0x04C11DB7, no reflection).
func CRC32MPEG(data []byte) uint32 {
	crc := uint32(0xffffffff)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ 0x04c11db7
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func appendCRC(section []byte) []byte {
	crc := CRC32MPEG(section)
	return append(section,
		byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
}

// PATPacket builds a TS packet carrying a single-program PAT pointing at
// pmtPID.
func PATPacket(pmtPID int) []byte {
	section := []byte{
		0x00,       // table_id: PAT
		0xb0, 0x0d, // section_syntax + length (13)
		0x00, 0x01, // transport_stream_id
		0xc1,       // version 0, current
		0x00, 0x00, // section/last_section number
		0x00, 0x01, // program_number 1
		0xe0 | byte(pmtPID>>8), byte(pmtPID), // PMT PID
	}
	payload := append([]byte{0x00}, appendCRC(section)...) // pointer_field
	return TSPacket(TSPacketOpts{PID: 0x0000, PUSI: true, Payload: pad184(payload)})
}

// PMTStream is one elementary stream entry for PMTPacket.
type PMTStream struct {
	StreamType byte
	PID        int
}

// PMTPacket builds a TS packet carrying a PMT for program 1.
func PMTPacket(pmtPID int, pcrPID int, streams []PMTStream) []byte {
	body := []byte{
		0x00, 0x01, // program_number
		0xc1,       // version 0, current
		0x00, 0x00, // section/last_section number
		0xe0 | byte(pcrPID>>8), byte(pcrPID),
		0xf0, 0x00, // program_info_length 0
	}
	for _, es := range streams {
		body = append(body,
			es.StreamType,
			0xe0|byte(es.PID>>8), byte(es.PID),
			0xf0, 0x00, // ES_info_length 0
		)
	}

	length := len(body) + 4 // body + CRC
	section := append([]byte{
		0x02, // table_id: PMT
		0xb0 | byte(length>>8), byte(length),
	}, body...)

	payload := append([]byte{0x00}, appendCRC(section)...)
	return TSPacket(TSPacketOpts{PID: pmtPID, PUSI: true, Payload: pad184(payload)})
}

// pad184 fills a PSI payload to a full packet with stuffing bytes, the
// way muxers emit sections.
func pad184(payload []byte) []byte {
	out := make([]byte, 184)
	for i := range out {
		out[i] = 0xff
	}
	copy(out, payload)
	return out
}

// ProgramStream builds a complete miniature program: PAT, PMT, and one
// PES per entry in ptsList on the video PID, each carrying an MPEG-2
// I-frame.
func ProgramStream(videoPID, audioPID int, ptsList []int64) []byte {
	stream := PATPacket(0x20)
	streams := []PMTStream{{StreamType: 0x02, PID: videoPID}}
	if audioPID > 0 {
		streams = append(streams, PMTStream{StreamType: 0x0f, PID: audioPID})
	}
	stream = append(stream, PMTPacket(0x20, videoPID, streams)...)
	// The continuity counter runs on across PES packets, as in a real
	// capture; Packetize alone restarts it at 0 for each PES.
	cc := byte(0)
	for _, pts := range ptsList {
		pes := append(PESHeader(0xe0, pts), MPEG2IFrame()...)
		pkts := Packetize(videoPID, pes)
		for off := 0; off < len(pkts); off += 188 {
			pkts[off+3] = pkts[off+3]&0xf0 | cc&0x0f
			cc++
		}
		stream = append(stream, pkts...)
	}
	return stream
}
