package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
)

// newSpinner 处理期间在 stderr 上显示进度, 非终端时 spinner 自动静默
func newSpinner(w io.Writer, message string) *spinner.Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	return s
}

func success(w io.Writer, format string, args ...interface{}) {
	_, _ = successColor.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, args...))
}

func warning(w io.Writer, format string, args ...interface{}) {
	_, _ = warnColor.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, args...))
}
