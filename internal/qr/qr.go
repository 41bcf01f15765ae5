// Package qr renders pairing URLs as terminal QR codes.
package qr

import (
	"io"

	"github.com/mdp/qrterminal/v3"
)

// RenderANSI writes an ANSI block QR code for data to w. Medium error
// correction keeps the code scannable at terminal size even with a
// ticket-bearing pairing URL.
func RenderANSI(w io.Writer, data string) error {
	cfg := qrterminal.Config{
		Level:     qrterminal.M,
		Writer:    w,
		BlackChar: qrterminal.BLACK,
		WhiteChar: qrterminal.WHITE,
		QuietZone: 2,
	}
	qrterminal.GenerateWithConfig(data, cfg)
	return nil
}
