package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/JonMunkholm/palaystore/internal/core"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError logs err and, when it maps to a known user message, prints
// that message and the suggested action to w.
func reportError(w io.Writer, err error) {
	slog.Error("command failed", "error", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}
