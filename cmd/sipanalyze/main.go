package main

import (
	"bytes"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/soypat/extconn/sdio"
	"github.com/soypat/extconn/sip"
	"github.com/soypat/saleae"
	"github.com/soypat/saleae/analyzers"
	"golang.org/x/exp/constraints"
)

// Analyzer decodes SDIO SPI-mode transactions captured with a logic analyzer.
type Analyzer struct {
	// OmitCCCR drops function 0 register accesses from output.
	OmitCCCR bool
	// OmitData skips raw data dumps of transfers that carry no SIP frames.
	OmitData bool
	// DecodeFrames walks function 1 packet transfers as SIP frames.
	DecodeFrames bool
}

func main() {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(handler))
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "sipanalyze - Decode Saleae digital captures of an SDIO (SPI mode) link carrying SIP traffic.\n\tUsage:\n")
		flag.PrintDefaults()
	}
	sdo := flag.String("f-sdo", "digital_1.bin", "Input filename: host to card data (MOSI).")
	sdi := flag.String("f-sdi", "digital_3.bin", "Input filename: card to host data (MISO).")
	enable := flag.String("f-cs", "digital_0.bin", "Input filename: chip select.")
	clk := flag.String("f-clk", "digital_2.bin", "Input filename: clock.")
	output := flag.String("o", "frames.txt", "Output filename of decoded transactions.")
	omitCCCR := flag.Bool("omit-cccr", false, "Omit function 0 register accesses.")
	omitData := flag.Bool("omit-data", false, "Omit raw data of transfers that are not SIP packets.")
	noFrames := flag.Bool("no-frames", false, "Do not decode SIP frames.")
	flag.Parse()

	an := Analyzer{
		OmitCCCR:     *omitCCCR,
		OmitData:     *omitData,
		DecodeFrames: !*noFrames,
	}
	start := time.Now()
	txs, err := scanFiles(*sdo, *sdi, *clk, *enable)
	if err != nil {
		log.Fatal(err)
	}
	fp, err := os.Create(*output)
	if err != nil {
		log.Fatal(err)
	}
	defer fp.Close()
	err = an.Write(fp, txs)
	if err != nil {
		log.Fatal(err)
	}
	slog.Info("finished", slog.Int("transactions", len(txs)), slog.Duration("took", time.Since(start)))
}

func scanFiles(fsdo, fsdi, fclk, fenable string) ([]analyzers.TxSPI, error) {
	sdo, err := opendigital(fsdo)
	if err != nil {
		return nil, err
	}
	sdi, err := opendigital(fsdi)
	if err != nil {
		return nil, err
	}
	clk, err := opendigital(fclk)
	if err != nil {
		return nil, err
	}
	enable, err := opendigital(fenable)
	if err != nil {
		return nil, err
	}
	spi := analyzers.SPI{}
	txs, _ := spi.Scan(clk, enable, sdo, sdi)
	return txs, nil
}

func opendigital(filename string) (*saleae.DigitalFile, error) {
	fp, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return saleae.ReadDigitalFile(fp)
}

// Command is a decoded SDIO command token.
type Command struct {
	Index uint8 // 52 or 53 for I/O commands.
	Write bool
	Fn    sdio.Function
	Block bool
	Inc   bool
	Addr  uint32
	Count uint16 // Bytes or blocks for CMD53, data byte for CMD52.
}

func (c Command) String() string {
	rw := "R"
	if c.Write {
		rw = "W"
	}
	switch c.Index {
	case 52:
		return fmt.Sprintf("CMD52 %s fn=%-4s addr=%#06x data=%#02x", rw, c.Fn.String(), c.Addr, c.Count)
	case 53:
		unit := "bytes"
		if c.Block {
			unit = "blocks"
		}
		return fmt.Sprintf("CMD53 %s fn=%-4s addr=%#06x %s=%d inc=%v", rw, c.Fn.String(), c.Addr, unit, c.Count, c.Inc)
	}
	return fmt.Sprintf("CMD%d", c.Index)
}

// DecodeCommand decodes the 6-byte command token that starts a transaction.
func DecodeCommand(b []byte) (c Command, ok bool) {
	if len(b) < 6 || b[0]&0xc0 != 0x40 {
		return c, false
	}
	c.Index = b[0] & 0x3f
	arg := binary.BigEndian.Uint32(b[1:5])
	c.Write = arg&(1<<31) != 0
	c.Fn = sdio.Function(arg>>28) & 0x7
	c.Addr = arg >> 9 & 0x1ffff
	switch c.Index {
	case 52:
		c.Count = uint16(arg & 0xff)
	case 53:
		c.Block = arg&(1<<27) != 0
		c.Inc = arg&(1<<26) != 0
		c.Count = uint16(arg & 0x1ff)
	}
	return c, true
}

// dataBlock returns the data following the start block token 0xfe,
// without its trailing CRC16.
func dataBlock(b []byte) []byte {
	i := bytes.IndexByte(b, 0xfe)
	if i < 0 {
		return nil
	}
	b = b[i+1:]
	return b[:satsub(len(b), 2)]
}

// packetWindow reports whether a function 1 access lands in the packet
// window just below [sdio.CMD53EndAddr].
func packetWindow(c Command) bool {
	return c.Fn == sdio.FuncWiFi && c.Addr < sdio.CMD53EndAddr && c.Addr >= sdio.CMD53EndAddr-sip.MaxRecvLen
}

// Write decodes every transaction into w, one line per command and one
// indented line per SIP frame. Repeated identical transactions are collapsed.
func (an *Analyzer) Write(w io.Writer, txs []analyzers.TxSPI) error {
	for i := 0; i < len(txs); i++ {
		cmd, ok := DecodeCommand(txs[i].SDO)
		if !ok {
			continue
		}
		repeat := 1
		for j := i + 1; j < len(txs); j++ {
			if !bytes.Equal(txs[j].SDO, txs[i].SDO) || !bytes.Equal(txs[j].SDI, txs[i].SDI) {
				break
			}
			repeat++
			i = j
		}
		if an.OmitCCCR && cmd.Fn == sdio.FuncCCCR {
			continue
		}
		lines := an.Describe(cmd, txs[i].SDO[6:], txs[i].SDI)
		_, err := fmt.Fprintf(w, "t=%.6f ×%-3d %s\n", txs[i].StartTime(), repeat, cmd.String())
		if err != nil {
			return err
		}
		for _, line := range lines {
			if _, err = fmt.Fprintf(w, "\t%s\n", line); err != nil {
				return err
			}
		}
	}
	return nil
}

// Describe returns the decoded lines of the data phase of cmd. sdo is the
// host data following the command token and sdi the card response stream.
func (an *Analyzer) Describe(cmd Command, sdo, sdi []byte) (lines []string) {
	if cmd.Index != 53 {
		return nil
	}
	data := dataBlock(sdi)
	dir := sip.ToHost
	if cmd.Write {
		data = dataBlock(sdo)
		dir = sip.ToTarget
	}
	switch {
	case an.DecodeFrames && packetWindow(cmd):
		err := sip.Walk(data, dir, func(hdr sip.Header, frame []byte) error {
			lines = append(lines, hdr.String())
			return nil
		})
		if err != nil {
			lines = append(lines, "error: "+err.Error())
		}
	case cmd.Fn == sdio.FuncBT && len(data) >= sip.SBPHeaderLen:
		hdr := sip.DecodeSBPHeader(data)
		lines = append(lines, fmt.Sprintf("sbp len=%d seq=%d hci=%x", hdr.Length, hdr.Seq, data[sip.SBPHeaderLen:max(sip.SBPHeaderLen, min(len(data), int(hdr.Length)))]))
	case !an.OmitData && len(data) > 0:
		lines = append(lines, fmt.Sprintf("data=%#x", data))
	}
	return lines
}

func satsub[T constraints.Integer](a, b T) T {
	if a < b {
		return 0
	}
	return a - b
}
