package progress

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// Bar tracks build step completion on stderr. A nil *Bar is valid and does
// nothing, so callers don't need to guard every Add with an enabled check.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(steps int, description string, out io.Writer) *Bar {
	if steps <= 0 {
		return nil
	}
	return &Bar{
		bar: progressbar.NewOptions(steps,
			progressbar.OptionSetDescription(description),
			progressbar.OptionSetWriter(out),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetPredictTime(false),
		),
	}
}

func (b *Bar) Add(n int) {
	if b == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil {
		return
	}
	_ = b.bar.Finish()
}
