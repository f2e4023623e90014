package sip

import "errors"

// ErrFrameLength is returned when a frame's length field cannot delimit a
// frame. The rest of the packet can not be trusted.
var ErrFrameLength = errors.New("sip: bad frame length")

// NextFrame splits the first frame off buf. It returns an empty frame and a
// nil error when buf holds no complete frame, in which case leftover bytes
// are a trailing partial frame.
func NextFrame(buf []byte, dir Direction) (hdr Header, frame, rest []byte, err error) {
	if len(buf) < HeaderLen {
		return hdr, nil, nil, nil
	}
	hdr = DecodeHeader(buf, dir)
	if hdr.Length < HeaderLen || !isaligned(hdr.Length, 4) {
		return hdr, nil, nil, ErrFrameLength
	}
	if int(hdr.Length) > len(buf) {
		return hdr, nil, nil, nil
	}
	return hdr, buf[:hdr.Length], buf[hdr.Length:], nil
}

// Walk calls fn for every complete frame in packet, in order. It stops at the
// first error returned by fn or at a frame with a bad length.
func Walk(packet []byte, dir Direction, fn func(hdr Header, frame []byte) error) error {
	for len(packet) > 0 {
		hdr, frame, rest, err := NextFrame(packet, dir)
		if err != nil {
			return err
		} else if frame == nil {
			return nil
		}
		if err = fn(hdr, frame); err != nil {
			return err
		}
		packet = rest
	}
	return nil
}
