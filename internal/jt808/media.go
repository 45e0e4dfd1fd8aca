package jt808

import "fmt"

// Multimedia types and formats carried by 0x0800/0x0801.
const (
	MediaTypeImage uint8 = 0
	MediaTypeAudio uint8 = 1
	MediaTypeVideo uint8 = 2

	MediaFormatJPEG uint8 = 0
	MediaFormatTIF  uint8 = 1
	MediaFormatMP3  uint8 = 2
	MediaFormatWAV  uint8 = 3
	MediaFormatWMV  uint8 = 4
)

const multimediaEventSize = 8

// MultimediaEvent is the 0x0800 body a terminal sends before uploading a
// photo or clip.
type MultimediaEvent struct {
	MediaID uint32
	Type    uint8
	Format  uint8
	Event   uint8
	Channel uint8
}

func (e MultimediaEvent) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	dst = appendU32(dst, e.MediaID)
	return append(dst, e.Type, e.Format, e.Event, e.Channel), nil
}

func (r *reader) multimediaEvent() MultimediaEvent {
	return MultimediaEvent{
		MediaID: r.u32(),
		Type:    r.u8(),
		Format:  r.u8(),
		Event:   r.u8(),
		Channel: r.u8(),
	}
}

func decodeMultimediaEvent(_ *Header, b []byte) (MultimediaEvent, error) {
	if len(b) != multimediaEventSize {
		return MultimediaEvent{}, fmt.Errorf("%w: multimedia event is %d bytes, got %d", ErrMalformedBody, multimediaEventSize, len(b))
	}
	return newReader(b, ErrMalformedBody).multimediaEvent(), nil
}

// MultimediaUpload is the 0x0801 body: the event header, the location at
// capture time and the media bytes. Large uploads arrive subpackaged and are
// decoded once the Assembler has the whole body.
type MultimediaUpload struct {
	MultimediaEvent
	Location LocationReport
	Data     []byte
}

func (u MultimediaUpload) AppendBody(dst []byte, h *Header) ([]byte, error) {
	dst, err := u.MultimediaEvent.AppendBody(dst, h)
	if err != nil {
		return nil, err
	}
	if dst, err = u.Location.appendFixed(dst); err != nil {
		return nil, err
	}
	return append(dst, u.Data...), nil
}

func decodeMultimediaUpload(_ *Header, b []byte) (MultimediaUpload, error) {
	r := newReader(b, ErrMalformedBody)
	u := MultimediaUpload{MultimediaEvent: r.multimediaEvent()}
	u.Location = r.location()
	u.Data = r.rest()
	if r.err != nil {
		return MultimediaUpload{}, r.err
	}
	return u, nil
}

// Stream types and data types of a 0x9101 request.
const (
	StreamMain uint8 = 0
	StreamSub  uint8 = 1

	MediaDataAudioVideo uint8 = 0
	MediaDataVideo      uint8 = 1
	MediaDataTalk       uint8 = 2
	MediaDataListen     uint8 = 3
)

// RealtimeMediaRequest is the 0x9101 body asking a terminal to stream a
// channel to Host.
type RealtimeMediaRequest struct {
	Host       string
	TCPPort    uint16
	UDPPort    uint16
	Channel    uint8
	DataType   uint8
	StreamType uint8
}

func (m RealtimeMediaRequest) AppendBody(dst []byte, _ *Header) ([]byte, error) {
	host, err := encodeText(m.Host)
	if err != nil {
		return nil, err
	}
	if len(host) > 0xFF {
		return nil, fmt.Errorf("%w: host is %d bytes", ErrFieldTooLong, len(host))
	}
	dst = append(dst, uint8(len(host)))
	dst = append(dst, host...)
	dst = appendU16(dst, m.TCPPort)
	dst = appendU16(dst, m.UDPPort)
	return append(dst, m.Channel, m.DataType, m.StreamType), nil
}

func decodeRealtimeMediaRequest(_ *Header, b []byte) (RealtimeMediaRequest, error) {
	r := newReader(b, ErrMalformedBody)
	m := RealtimeMediaRequest{Host: r.text(int(r.u8()))}
	m.TCPPort = r.u16()
	m.UDPPort = r.u16()
	m.Channel = r.u8()
	m.DataType = r.u8()
	m.StreamType = r.u8()
	if r.err != nil {
		return RealtimeMediaRequest{}, r.err
	}
	if r.remaining() != 0 {
		return RealtimeMediaRequest{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformedBody, r.remaining())
	}
	return m, nil
}
