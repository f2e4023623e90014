package extconn

// WiFiHost is implemented by the upper WiFi stack.
type WiFiHost interface {
	// RecvWiFi is called with every DATA and DATA_AMPDU frame received,
	// header included. frame is only valid for the duration of the call.
	RecvWiFi(frame []byte) error
	// CoexState is called on coexistence state events.
	CoexState(wifi, ble, bt uint16)
	// TxDone is called once a completion tracked buffer has been sent.
	TxDone(buf *TxBuffer)
	// Recycle returns a buffer that is no longer needed, whether sent or purged.
	Recycle(buf *TxBuffer)
}

// BTHost is implemented by the Bluetooth host stack.
type BTHost interface {
	// RecvBT is called with each HCI packet received, without its SBP header.
	// payload is only valid for the duration of the call.
	RecvBT(payload []byte)
}
