// Package sip implements the wire format of the serial interface protocol
// spoken between the host and the coprocessor over the SDIO link.
// It performs no I/O.
package sip

import (
	"strconv"

	"golang.org/x/exp/constraints"
)

const (
	// HeaderLen is the size of every SIP frame header.
	HeaderLen = 12
	// BootBufSize is the size of the scratch buffer used for memory writes
	// during firmware download, header included.
	BootBufSize = 256
	// MaxRecvLen is the largest packet the coprocessor sends the host in one read.
	MaxRecvLen = 32 * 1024
)

// FrameType is the 4-bit frame class carried in the low nibble of the first header byte.
type FrameType uint8

const (
	TypeCtrl FrameType = iota
	TypeData
	TypeDataAMPDU
	TypeHybridData
	typeMax
)

func (t FrameType) IsValid() bool { return t < typeMax }

// IsData reports whether frames of this type carry a data descriptor in the header union.
func (t FrameType) IsData() bool { return t == TypeData || t == TypeDataAMPDU }

func (t FrameType) String() string {
	switch t {
	case TypeCtrl:
		return "ctrl"
	case TypeData:
		return "data"
	case TypeDataAMPDU:
		return "ampdu"
	case TypeHybridData:
		return "hybrid"
	}
	return "type(" + strconv.Itoa(int(t)) + ")"
}

// Flags are the per-frame flag bits of the second header byte on host bound
// data frames and on all target bound frames.
type Flags uint8

const (
	FlagMorePkt          Flags = 0x01
	FlagNeedCreditReport Flags = 0x02
	FlagSync             Flags = 0x04
	FlagSyncReset        Flags = 0x08
	FlagPMTurningOn      Flags = 0x10
	FlagPMTurningOff     Flags = 0x20
)

// CommandID identifies host to target control commands.
type CommandID uint32

const (
	CmdGetVer CommandID = iota
	CmdWriteMemory
	CmdReadMemory
	CmdWriteReg
	CmdReadReg
	CmdBootup
	CmdCopyback
	CmdInit
	CmdScan
	CmdSetKey
	CmdConfig
	CmdBSSInfoUpdate
	CmdLoopback
	CmdSetWMMParam
	CmdAMPDUAction
	CmdHBReq
	CmdResetMAC
	CmdPreDown
	CmdSleep
	CmdWakeup
	CmdDebug
	CmdGetFWVer
	CmdSetVIF
	CmdSetSTA
	CmdPS
	CmdATE
	CmdSuspend
	CmdRecalcCredit
	CmdBTState
	CmdTest
	cmdMax
)

var cmdNames = [cmdMax]string{
	"GET_VER", "WRITE_MEMORY", "READ_MEMORY", "WRITE_REG", "READ_REG",
	"BOOTUP", "COPYBACK", "INIT", "SCAN", "SETKEY",
	"CONFIG", "BSS_INFO_UPDATE", "LOOPBACK", "SET_WMM_PARAM", "AMPDU_ACTION",
	"HB_REQ", "RESET_MAC", "PRE_DOWN", "SLEEP", "WAKEUP",
	"DEBUG", "GET_FW_VER", "SETVIF", "SETSTA", "PS",
	"ATE", "SUSPEND", "RECALC_CREDIT", "BT_STATE", "TEST",
}

func (c CommandID) IsValid() bool { return c < cmdMax }

func (c CommandID) String() string {
	if c.IsValid() {
		return cmdNames[c]
	}
	return "CMD(" + strconv.FormatUint(uint64(c), 10) + ")"
}

// EventID identifies target to host control events. It is carried in the
// flag byte of CTRL frames.
type EventID uint8

const (
	EvtTargetOn EventID = iota
	EvtBootup
	EvtCopyback
	EvtScanResult
	EvtTxStatus
	EvtCreditReport
	EvtError
	EvtLoopback
	EvtSnprintfToHost
	EvtHBAck
	EvtResetMACAck
	EvtWakeup
	EvtDebug
	EvtPrintToHost
	EvtTrcAMPDU
	EvtROC
	EvtResetting
	EvtATE
	EvtEP
	EvtInitEP
	EvtSleep
	EvtTxIdle
	EvtNoiseFloor
	EvtNullFuncReport
	EvtCoexState
	evtMax
)

var evtNames = [evtMax]string{
	"TARGET_ON", "BOOTUP", "COPYBACK", "SCAN_RESULT", "TX_STATUS",
	"CREDIT_RPT", "ERROR", "LOOPBACK", "SNPRINTF_TO_HOST", "HB_ACK",
	"RESET_MAC_ACK", "WAKEUP", "DEBUG", "PRINT_TO_HOST", "TRC_AMPDU",
	"ROC", "RESETTING", "ATE", "EP", "INIT_EP",
	"SLEEP", "TXIDLE", "NOISEFLOOR", "NULLFUNC_REPORT", "COEX_STATE",
}

func (e EventID) IsValid() bool { return e < evtMax }

func (e EventID) String() string {
	if e.IsValid() {
		return evtNames[e]
	}
	return "EVT(" + strconv.Itoa(int(e)) + ")"
}

// alignup rounds `val` up to nearest multiple of `align`. `align` must be a power of 2.
func alignup[T constraints.Unsigned](val, align T) T {
	return (val + align - 1) &^ (align - 1)
}

// isaligned checks if `val` is wholly divisible by `align`. `align` must be a power of 2.
func isaligned[T constraints.Unsigned](val, align T) bool {
	return val&(align-1) == 0
}

// FrameLen returns the wire length of a frame carrying a payload of n bytes.
func FrameLen(n int) int {
	return int(alignup(uint(n), 4)) + HeaderLen
}
