// Package banner prints the startup banner for imagetool serve.
package banner

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Opts controls banner output. A zero Opts prints without delay.
type Opts struct {
	LineDelay time.Duration // pause after each art line; zero disables the typewriter effect
	Color     bool          // wrap the tagline in ANSI cyan
}

const bannerArt = `
 _                            _              _ 
(_)_ __ ___   __ _  __ _  ___| |_ ___   ___ | |
| | '_ ` + "`" + ` _ \ / _` + "`" + ` |/ _` + "`" + ` |/ _ \ __/ _ \ / _ \| |
| | | | | | | (_| | (_| |  __/ || (_) | (_) | |
|_|_| |_| |_|\__,_|\__, |\___|\__\___/ \___/|_|
                   |___/                       
`

// Tagline follows the art on the version line.
const Tagline = "imagemage tool gateway"

// Startup writes the banner art, then the tagline and version.
func Startup(w io.Writer, version string, opts Opts) {
	for _, line := range splitLines(bannerArt) {
		fmt.Fprintln(w, line)
		if opts.LineDelay > 0 {
			time.Sleep(opts.LineDelay)
		}
	}
	if opts.Color {
		fmt.Fprintf(w, "\033[36m  %s  \033[0m  v%s\n\n", Tagline, version)
		return
	}
	fmt.Fprintf(w, "  %s  v%s\n\n", Tagline, version)
}

// splitLines drops the leading blank line of a raw string literal.
func splitLines(s string) []string {
	s = strings.TrimPrefix(s, "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
