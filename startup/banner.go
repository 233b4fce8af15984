package startup

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	// ANSI color codes
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	white  = "\033[37m"

	indent = "    "
)

// BannerOptions configures the startup banner display.
type BannerOptions struct {
	Version    string
	LocalURL   string
	BackendURL string
	Store      string // e.g. "file ~/.joules/joulesV2Meetings.json"
	Warnings   []string
}

// colorsEnabled returns true if ANSI colors should be used.
func colorsEnabled(out *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return term.IsTerminal(int(out.Fd()))
}

type printer struct {
	w     io.Writer
	color bool
}

func (p printer) c(code, text string) string {
	if !p.color {
		return text
	}
	return code + text + reset
}

// PrintBanner displays the startup banner on stdout.
func PrintBanner(opts BannerOptions) {
	writeBanner(printer{w: os.Stdout, color: colorsEnabled(os.Stdout)}, opts)
}

func writeBanner(p printer, opts BannerOptions) {
	fmt.Fprintln(p.w)

	logo := p.c(cyan, "◆") + "  " + p.c(bold+white, "J O U L E S")
	fmt.Fprintf(p.w, "%s%s%s%s\n", indent, logo, strings.Repeat(" ", 30), p.c(dim, opts.Version))

	fmt.Fprintln(p.w)

	fmt.Fprintf(p.w, "%s%s    %s\n", indent, p.c(dim, "▸ Local"), p.c(green, opts.LocalURL))
	fmt.Fprintf(p.w, "%s%s  %s\n", indent, p.c(dim, "▸ Backend"), p.c(green, opts.BackendURL))
	if opts.Store != "" {
		fmt.Fprintf(p.w, "%s%s    %s\n", indent, p.c(dim, "▸ Store"), opts.Store)
	}

	for _, w := range opts.Warnings {
		fmt.Fprintf(p.w, "%s%s\n", indent, p.c(yellow, "! "+w))
	}

	fmt.Fprintln(p.w)
}

// PrintFooter prints the footer with shutdown instructions.
func PrintFooter() {
	p := printer{w: os.Stdout, color: colorsEnabled(os.Stdout)}
	fmt.Fprintf(p.w, "%s%s\n", indent, p.c(dim, "Press Ctrl+C to stop"))
	fmt.Fprintln(p.w)
}
