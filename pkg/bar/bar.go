// Package bar renders job progress on the terminal.
package bar

import (
	"fmt"
	"io"

	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

// Job returns a bar counting acknowledged lines out of total.
func Job(total int, name string) *progressbar.ProgressBar {
	return newBar(ansi.NewAnsiStdout(), total, name)
}

func newBar(w io.Writer, total int, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("lines"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset]", name)),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(w) }),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]#[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "|",
			BarEnd:        "|",
		}),
	)
}
