package logging

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	cyan   = "\033[36m"
	green  = "\033[32m"
	yellow = "\033[33m"
	dim    = "\033[2m"
)

// Logo lines — base Agorai ASCII art.
var logoLines = [5]string{
	`  _                          _ `,
	` / \   __ _  ___  _ __ __ _ (_)`,
	`/ _ \ / _` + "`" + ` |/ _ \| '__/ _` + "`" + `| | |`,
	`/ ___ \ (_| | (_) | | | (_| | |`,
	`/_/   \_\__, |\___/|_|  \__,_|_|`,
}

// Mode-specific art (right-side, same height as the logo).
var bridgeArt = [5]string{
	` _          _     _            `,
	`| |__  _ __(_) __| | __ _  ___ `,
	`| '_ \| '__| |/ _` + "`" + ` |/ _` + "`" + ` |/ _ \`,
	`| |_) | |  | | (_| | (_| |  __/`,
	`|_.__/|_|  |_|\__,_|\__, |\___|`,
}

var agentArt = [5]string{
	`  __ _  __ _  ___ _ __ | |_ `,
	` / _` + "`" + ` |/ _` + "`" + ` |/ _ \ '_ \| __|`,
	`| (_| | (_| |  __/ | | | |_ `,
	` \__,_|\__, |\___|_| |_|\__|`,
	`       |___/                `,
}

// PrintBanner prints the Agorai ASCII art logo with mode-specific art
// appended to the right, followed by version and listen/target address.
// Colors are used only when stderr is a TTY.
func PrintBanner(mode, ver, addr string) {
	color := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())

	modeArt := &agentArt
	modeColor := yellow
	if mode == "bridge" || mode == "standalone" {
		modeArt = &bridgeArt
		modeColor = green
	}

	for i := 0; i < len(logoLines); i++ {
		if color {
			fmt.Fprintf(os.Stderr, "%s%s%s%s%s%s\n",
				bold+cyan, logoLines[i], reset,
				bold+modeColor, modeArt[i], reset)
		} else {
			fmt.Fprintf(os.Stderr, "%s%s\n", logoLines[i], modeArt[i])
		}
	}

	if color {
		fmt.Fprintf(os.Stderr, "\n  %sversion%s %s   %saddr%s %s\n\n",
			dim, reset, ver, dim, reset, addr)
	} else {
		fmt.Fprintf(os.Stderr, "\n  version %s   addr %s\n\n", ver, addr)
	}
}
