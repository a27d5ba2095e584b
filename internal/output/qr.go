package output

import (
	"fmt"
	"io"

	"github.com/mdp/qrterminal/v3"
	"rsc.io/qr"
)

// QRConfig configures QR code rendering.
type QRConfig struct {
	Level      qr.Level
	QuietZone  int
	HalfBlocks bool
}

// DefaultQRConfig returns the settings used for wallet links.
func DefaultQRConfig() QRConfig {
	return QRConfig{Level: qr.M, QuietZone: 1, HalfBlocks: true}
}

// CanRenderQR reports whether w is a terminal.
func CanRenderQR(w io.Writer) bool {
	return isTerminal(w)
}

// RenderQR draws data as a QR code. Non-terminal writers get nothing.
func RenderQR(w io.Writer, data string, cfg QRConfig) error {
	if !CanRenderQR(w) {
		return nil
	}
	if _, err := qr.Encode(data, cfg.Level); err != nil {
		return fmt.Errorf("encoding QR code: %w", err)
	}
	qrterminal.GenerateWithConfig(data, qrterminal.Config{
		Level:          cfg.Level,
		Writer:         w,
		QuietZone:      cfg.QuietZone,
		HalfBlocks:     cfg.HalfBlocks,
		BlackChar:      qrterminal.BLACK_BLACK,
		WhiteChar:      qrterminal.WHITE_WHITE,
		WhiteBlackChar: qrterminal.WHITE_BLACK,
		BlackWhiteChar: qrterminal.BLACK_WHITE,
	})
	return nil
}

// PresentLink prints a wallet link the user has to open by hand, followed by
// its QR code on a terminal so it can be opened on a phone.
func PresentLink(w io.Writer, label, link string) error {
	if _, err := fmt.Fprintf(w, "%s:\n  %s\n", label, link); err != nil {
		return err
	}
	return RenderQR(w, link, DefaultQRConfig())
}
