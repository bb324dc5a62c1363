package main

import (
	"golang.design/x/hotkey/mainthread"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Global hotkeys need the main thread on macOS
	mainthread.Init(execute)
}
