// Package tsindex builds seek indexes from raw MPEG transport streams. It
// walks 188-byte TS packets, reassembles PES headers across packet
// boundaries for the configured video and audio PIDs, and reports PTS
// timestamps and video I-frame positions so a recording can be seeked by
// time.
package tsindex

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
)

// PacketSize is the fixed size of a transport stream packet.
const PacketSize = 188

const (
	syncByte = 0x47
	nullPID  = 0x1fff

	// maxCarry bounds the per-PID carry buffer used to bridge one TS
	// payload boundary. Parsing resynchronizes on the next payload
	// unit start if a header would grow past it.
	maxCarry = 512
)

// PTSNone marks an event whose PTS is not (yet) known.
const PTSNone int64 = -1

// Format selects the video codec the I-frame scanner understands.
type Format int

// Video formats.
const (
	FormatNone Format = iota - 1
	FormatMPEG2
	FormatH264
	FormatHEVC
)

// EventType classifies an index event.
type EventType int

// Index event types.
const (
	EventVideoPTS EventType = iota
	EventAudioPTS
	EventVideoIFrame
)

// Event is one index entry: the absolute stream offset of the PES packet
// it was found in, plus the PTS last seen on that PID.
type Event struct {
	PID    int
	Offset uint64
	PTS    int64
	Type   EventType
}

// EventFunc receives index events as they are discovered.
type EventFunc func(Event)

type pesState int

const (
	stateInit pesState = iota
	stateTSStart
	statePESHeader
	statePESPTS
)

// pesParser holds the per-PID reassembly state: the PES header state
// machine plus a carry buffer bridging TS packet boundaries.
type pesParser struct {
	pid      int
	format   Format
	video    bool
	pts      int64
	state    pesState
	carry    []byte
	pesStart uint64
}

func (p *pesParser) reset(pid int) {
	p.pid = pid
	p.pts = PTSNone
	p.state = stateInit
	p.carry = nil
	p.pesStart = 0
}

// Indexer is a streaming TS index builder. It is not safe for concurrent
// use; feed it one stream from a single goroutine.
type Indexer struct {
	video   pesParser
	audio   pesParser
	offset  uint64
	onEvent EventFunc
}

// New returns an indexer with no PIDs configured. Packets are skipped
// until SetVideoPID or SetAudioPID select streams to follow.
func New() *Indexer {
	ix := &Indexer{}
	ix.video.reset(nullPID)
	ix.video.video = true
	ix.video.format = FormatNone
	ix.audio.reset(nullPID)
	ix.audio.format = FormatNone
	return ix
}

// SetVideoPID selects the video stream and resets its parser state.
func (ix *Indexer) SetVideoPID(pid int) {
	format := ix.video.format
	ix.video.reset(pid)
	ix.video.format = format
}

// SetAudioPID selects the audio stream and resets its parser state.
func (ix *Indexer) SetAudioPID(pid int) {
	ix.audio.reset(pid)
}

// SetVideoFormat selects the codec the I-frame scanner parses.
func (ix *Indexer) SetVideoFormat(format Format) {
	ix.video.format = format
}

// SetEventFunc registers the index event callback.
func (ix *Indexer) SetEventFunc(fn EventFunc) {
	ix.onEvent = fn
}

// Offset returns the absolute stream offset consumed so far.
func (ix *Indexer) Offset() uint64 {
	return ix.offset
}

// Parse consumes whole 188-byte packets starting at each sync byte and
// returns the number of trailing bytes it could not consume. The caller
// must present those bytes again, prefixed to the next chunk. Bytes
// preceding a sync byte are skipped but still advance the stream offset.
func (ix *Indexer) Parse(data []byte) int {
	for len(data) > 0 {
		if data[0] != syncByte {
			data = data[1:]
			ix.offset++
			continue
		}
		if len(data) < PacketSize {
			return len(data)
		}
		ix.parsePacket(data[:PacketSize])
		data = data[PacketSize:]
		ix.offset += PacketSize
	}
	return 0
}

// parsePacket handles one TS packet starting at ix.offset.
func (ix *Indexer) parsePacket(pkt []byte) {
	pid := int(pkt[1]&0x1f)<<8 | int(pkt[2])
	if pid == nullPID {
		return
	}

	var parser *pesParser
	switch pid {
	case ix.video.pid:
		parser = &ix.video
	case ix.audio.pid:
		parser = &ix.audio
	default:
		return
	}

	if pkt[1]&0x40 != 0 {
		// Payload unit start: a new PES packet begins in this packet.
		// Anything carried from the previous one is abandoned.
		parser.pesStart = ix.offset
		parser.state = stateTSStart
		parser.carry = nil
	}

	afc := (pkt[3] >> 4) & 0x03
	payload := pkt[4:]

	if afc&2 != 0 {
		if len(payload) == 0 {
			return
		}
		adaptation := int(payload[0]) + 1
		if adaptation > len(payload) {
			// Malformed adaptation field length; drop the packet.
			return
		}
		payload = payload[adaptation:]
	}

	if afc&1 != 0 && len(payload) > 0 {
		ix.feedPES(parser, payload)
	}
}

// feedPES advances the per-PID PES state machine over one packet's
// payload, logically prefixed with the parser's carry buffer.
func (ix *Indexer) feedPES(p *pesParser, payload []byte) {
	if p.state == stateInit {
		p.carry = nil
		return
	}

	buf := payload
	if len(p.carry) > 0 {
		buf = make([]byte, 0, len(p.carry)+len(payload))
		buf = append(buf, p.carry...)
		buf = append(buf, payload...)
		p.carry = nil
	}

	if p.state == stateTSStart {
		if len(buf) < 6 {
			p.setCarry(buf)
			return
		}
		if buf[0] != 0 || buf[1] != 0 || buf[2] != 1 {
			// Not a PES start code; resynchronize on the next unit
			// start.
			p.state = stateInit
			p.carry = nil
			return
		}
		// Start code, stream id, packet length.
		buf = buf[6:]
		p.state = statePESHeader
	}

	if p.state == statePESHeader {
		if len(buf) < 8 {
			p.setCarry(buf)
			return
		}
		flags := buf[1]
		headerLen := int(buf[2])
		if len(buf) < 3+headerLen {
			p.setCarry(buf)
			return
		}
		if flags&0x80 != 0 {
			p.pts = decodePTS(buf[3:8])
			typ := EventAudioPTS
			if p.video {
				typ = EventVideoPTS
			}
			ix.emit(Event{PID: p.pid, Offset: p.pesStart, PTS: p.pts, Type: typ})
		}
		buf = buf[3+headerLen:]
		p.state = statePESPTS
	}

	if len(buf) == 0 {
		return
	}

	if !p.video {
		return
	}
	switch p.format {
	case FormatMPEG2:
		ix.scanMPEG2(p, buf)
	case FormatH264:
		ix.scanH264(p, buf)
	case FormatHEVC:
		ix.scanHEVC(p, buf)
	}
}

// setCarry stores the unconsumed residual for the next packet. Carries
// larger than one bridged boundary are malformed input; parsing drops the
// PES and resynchronizes.
func (p *pesParser) setCarry(buf []byte) {
	if len(buf) > maxCarry {
		p.state = stateInit
		p.carry = nil
		return
	}
	p.carry = append([]byte(nil), buf...)
}

// decodePTS extracts the 33-bit PTS from the five-byte layout of the PES
// optional header.
func decodePTS(b []byte) int64 {
	return int64(b[0]&0x0e)<<29 |
		int64(b[1])<<22 |
		int64(b[2]&0xfe)<<14 |
		int64(b[3])<<7 |
		int64(b[4]&0xfe)>>1
}

func (ix *Indexer) emit(evt Event) {
	if ix.onEvent != nil {
		ix.onEvent(evt)
	}
}

// scanMPEG2 looks for picture headers (start code 00 00 01 00) and emits
// an I-frame event when picture_coding_type is 1. Residual bytes that may
// hold a header split across packets are carried.
func (ix *Indexer) scanMPEG2(p *pesParser, buf []byte) {
	i := 0
	for i+4 <= len(buf) {
		if buf[i] == 0 && buf[i+1] == 0 && buf[i+2] == 1 && buf[i+3] == 0 {
			if len(buf)-i < 6 {
				// Picture header split across TS packets.
				p.setCarry(buf[i:])
				return
			}
			codingType := (buf[i+5] >> 3) & 0x7
			if codingType == 1 {
				ix.emit(Event{PID: p.pid, Offset: p.pesStart, PTS: p.pts, Type: EventVideoIFrame})
			}
			i += 5
		} else {
			i++
		}
	}
	if i < len(buf) {
		p.setCarry(buf[i:])
	} else {
		p.carry = nil
	}
}

// scanH264 walks Annex-B NAL units and emits an I-frame event for IDR and
// non-IDR slices carrying the top reference priority, matching the index
// format of recordings produced by earlier engine versions. Start codes
// split across TS packets are not rejoined.
func (ix *Indexer) scanH264(p *pesParser, buf []byte) {
	i := 0
	for len(buf)-i > 4 {
		start, length := nextNALU(buf[i:])
		if start < 0 {
			break
		}
		hdr := buf[i+start+3]
		typ := h264.NALUType(hdr & 0x1f)
		if (typ == h264.NALUTypeIDR || typ == h264.NALUTypeNonIDR) && hdr&0x60 == 0x60 {
			ix.emit(Event{PID: p.pid, Offset: p.pesStart, PTS: p.pts, Type: EventVideoIFrame})
		}
		i += start + length
	}
	p.carry = nil
}

// scanHEVC walks Annex-B NAL units and emits an I-frame event for
// IDR_W_RADL units.
func (ix *Indexer) scanHEVC(p *pesParser, buf []byte) {
	i := 0
	for len(buf)-i > 4 {
		start, length := nextNALU(buf[i:])
		if start < 0 {
			break
		}
		hdr := buf[i+start+3]
		typ := h265.NALUType((hdr >> 1) & 0x3f)
		if typ == h265.NALUType_IDR_W_RADL {
			ix.emit(Event{PID: p.pid, Offset: p.pesStart, PTS: p.pts, Type: EventVideoIFrame})
		}
		i += start + length
	}
	p.carry = nil
}

// nextNALU locates the next 00 00 01 start code and the distance to the
// one after it (or the end of the buffer). Returns start < 0 when no
// complete start code remains.
func nextNALU(buf []byte) (start, length int) {
	for i := 0; i+4 < len(buf); i++ {
		if buf[i] != 0 || buf[i+1] != 0 || buf[i+2] != 1 {
			continue
		}
		for j := i + 4; j+4 < len(buf); j++ {
			if buf[j] == 0 && buf[j+1] == 0 && buf[j+2] == 1 {
				return i, j - i
			}
		}
		return i, len(buf) - i
	}
	return -1, 0
}
