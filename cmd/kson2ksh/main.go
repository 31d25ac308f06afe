// Command kson2ksh converts a KSON chart to KSH and writes it to stdout.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/kshootmania/kson-go/chart"
	"github.com/kshootmania/kson-go/ksh"
	"github.com/kshootmania/kson-go/kson"
)

const (
	exitSuccess    = 0
	exitNoArgument = 1
	exitError      = 2
)

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func printError(msg string) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+msg))
}

func printWarnings(warnings []string) {
	for _, warning := range warnings {
		fmt.Fprintln(os.Stderr, warningStyle.Render("Warning: "+warning))
	}
}

func doConvert(input io.Reader) int {
	chartData := kson.Load(input)
	printWarnings(chartData.Warnings)
	if chartData.Error != chart.ErrorNone {
		printError(chartData.Error.String())
		return exitError
	}

	if err := ksh.Save(os.Stdout, chartData); err != nil {
		printError(err.Error())
		return exitError
	}
	return exitSuccess
}

func main() {
	exitCode := exitSuccess

	cmd := &cobra.Command{
		Use:           "kson2ksh [input.kson]",
		Short:         "Convert a KSON chart file to the KSH format",
		Long:          "kson2ksh converts a KSON chart to KSH.\nReads the given file, or stdin when no file is given, and writes to stdout.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  false,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				exitCode = doConvert(os.Stdin)
				return nil
			}
			file, err := os.Open(args[0])
			if err != nil {
				printError("Cannot open file: " + args[0])
				exitCode = exitError
				return nil
			}
			defer file.Close()
			exitCode = doConvert(file)
			return nil
		},
	}

	if err := cmd.Execute(); err != nil {
		printError(err.Error())
		os.Exit(exitNoArgument)
	}
	os.Exit(exitCode)
}
