package main

import (
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/stalexteam/silencer/pkg/silencer"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose bool
	noTray  bool
)

func init() {
	flag.BoolVarP(&verbose, "verbose", "v", false, "show verbose logs (useful for debugging policy decisions)")
	flag.BoolVar(&noTray, "no-tray", false, "run without a tray icon, stop with Ctrl+C")
}

func main() {

	// parse the command line
	flag.Parse()

	// first we need a logger
	logger, err := silencer.NewLogger(buildType)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Infow("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	// provide a fair warning if the user's running in verbose mode
	if verbose {
		named.Debug("Verbose flag provided, all log messages will be shown")
	}

	// create the silencer instance
	s, err := silencer.NewSilencer(logger, verbose)
	if err != nil {
		named.Fatalw("Failed to create silencer object", "error", err)
	}

	// if injected by build process, set version info to show up in the tray
	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		s.SetVersion(fmt.Sprintf("Version %s-%s", buildType, identifier))
	}

	if noTray {
		s.DisableTray()
	}

	// onwards, to glory
	if err = s.Initialize(); err != nil {
		named.Fatalw("Failed to initialize silencer", "error", err)
	}
}
