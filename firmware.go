package extconn

import (
	"encoding/binary"
	"errors"
	"log/slog"
	"strconv"
	"time"
)

const (
	firmwareMagic = 0xe9
	// firmwareHeaderLen is the image header plus the extended header that
	// precedes the first block.
	firmwareHeaderLen = 24
	fwBlockHeaderLen  = 8
)

// ErrBadMagic is returned for images that do not start with the image magic byte.
var ErrBadMagic = errors.New("extconn: bad firmware magic")

// FirmwareError describes a malformed firmware image.
type FirmwareError struct {
	Offset int
	Reason string
	Err    error
}

func (fe *FirmwareError) Error() string {
	return "extconn: firmware at offset " + strconv.Itoa(fe.Offset) + ": " + fe.Reason
}

func (fe *FirmwareError) Unwrap() error { return fe.Err }

// FirmwareBlock is a contiguous region loaded to target memory.
type FirmwareBlock struct {
	Addr uint32
	Data []byte
}

// Firmware is a parsed coprocessor image.
type Firmware struct {
	Entry  uint32
	Blocks []FirmwareBlock
}

// ParseFirmware validates an image and splits it into blocks. Block data
// aliases fw.
func ParseFirmware(fw []byte) (Firmware, error) {
	if len(fw) < firmwareHeaderLen {
		return Firmware{}, &FirmwareError{Offset: 0, Reason: "short header"}
	} else if fw[0] != firmwareMagic {
		return Firmware{}, &FirmwareError{Offset: 0, Reason: "magic " + strconv.Itoa(int(fw[0])), Err: ErrBadMagic}
	}
	nblocks := int(fw[1])
	img := Firmware{
		Entry:  binary.LittleEndian.Uint32(fw[4:8]),
		Blocks: make([]FirmwareBlock, 0, nblocks),
	}
	off := firmwareHeaderLen
	for i := 0; i < nblocks; i++ {
		if off+fwBlockHeaderLen > len(fw) {
			return Firmware{}, &FirmwareError{Offset: off, Reason: "short block header " + strconv.Itoa(i)}
		}
		addr := binary.LittleEndian.Uint32(fw[off:])
		n := int(binary.LittleEndian.Uint32(fw[off+4:]))
		off += fwBlockHeaderLen
		if n < 0 || n > len(fw)-off {
			return Firmware{}, &FirmwareError{Offset: off, Reason: "block " + strconv.Itoa(i) + " overruns image"}
		}
		img.Blocks = append(img.Blocks, FirmwareBlock{Addr: addr, Data: fw[off : off+n]})
		off += n
	}
	return img, nil
}

// DownloadFirmware writes every block of fw to target memory and returns
// the image entry point. A malformed image fails before anything is written.
func (s *Session) DownloadFirmware(fw []byte) (entry uint32, err error) {
	img, err := ParseFirmware(fw)
	if err != nil {
		s.logerr("fw:parse", errattr(err))
		return 0, err
	}
	start := time.Now()
	s.info("fw:download", slog.Int("blocks", len(img.Blocks)), slog.Int("size", len(fw)), slog.Uint64("entry", uint64(img.Entry)))
	for i, blk := range img.Blocks {
		s.debug("fw:block", slog.Int("idx", i), slog.Uint64("addr", uint64(blk.Addr)), slog.Int("len", len(blk.Data)))
		err = s.WriteMemory(blk.Addr, blk.Data)
		if err != nil {
			return 0, err
		}
	}
	s.info("fw:download-done", slog.Duration("took", time.Since(start)))
	return img.Entry, nil
}
