package commands

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	green = color.New(color.FgGreen)
	cyan  = color.New(color.FgCyan)
	red   = color.New(color.FgRed, color.Bold)
)

func printSuccess(format string, a ...any) {
	green.Printf("✓ "+format+"\n", a...)
}

func printStep(format string, a ...any) {
	cyan.Printf("→ "+format+"\n", a...)
}

func printError(err error) {
	red.Fprintf(os.Stderr, "%s\n", fmt.Sprint(err))
}
