package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

// TransferBar tracks bytes moved during a transfer. It is observability
// only; dropping every call changes nothing about the protocol.
type TransferBar struct {
	bar   *pterm.ProgressbarPrinter
	total int64
	done  int64
}

// NewTransferBar creates a progress bar sized for total bytes. A nil bar
// is returned (and tolerated by all methods) if the printer fails to
// start, so progress can never break a transfer.
func NewTransferBar(title string, total int64) *TransferBar {
	if total <= 0 {
		return nil
	}
	bar, err := pterm.DefaultProgressbar.
		WithTotal(int(total)).
		WithTitle(title).
		WithShowCount(false).
		Start()
	if err != nil {
		return nil
	}
	return &TransferBar{bar: bar, total: total}
}

// Add advances the bar by n bytes.
func (b *TransferBar) Add(n int) {
	if b == nil {
		return
	}
	b.done += int64(n)
	b.bar.Add(n)
}

// Finish stops the bar and logs the final byte count.
func (b *TransferBar) Finish() {
	if b == nil {
		return
	}
	b.bar.Stop()
	LogInfo("transferred %s of %s", FormatBytes(float64(b.done)), FormatBytes(float64(b.total)))
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// FormatBytes formats a byte count into a human-readable string with fixed
// width, for example: "99.0   B", " 1.5 KiB", "98.9 GiB".
func FormatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}
