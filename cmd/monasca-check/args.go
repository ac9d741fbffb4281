package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jessevdk/go-flags"
)

type commandOptions struct {
	ConfD      string        `short:"d" long:"confd-path"  default:"/etc/monasca/agent/conf.d" description:"Directory of the check configuration files"`
	ConfigPath string        `short:"c" long:"config-path"                                   description:"Agent configuration file, for hostname and dimensions"`
	Repeat     uint          `short:"r" long:"repeat"      default:"1"                        description:"Number of times the check is run"`
	Delay      time.Duration `          long:"delay"       default:"1s"                       description:"Pause between runs, rates need two runs"`
	Verbose    bool          `short:"v" long:"verbose"                                       description:"Log at debug level"`
	Args       struct {
		Check string `positional-arg-name:"check" required:"yes" description:"Name of the check, its configuration file without extension"`
	} `positional-args:"yes"`
}

// parseArgs returns the options, or ok false when the program should exit
// with the returned code.
func parseArgs(args []string, stdout, stderr io.Writer) (opts commandOptions, code int, ok bool) {
	parser := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
	parser.LongDescription = "" + // because gofmt
		"Runs a single check from its conf.d file and prints the measurements\n" +
		"it produced on every run as JSON."

	if _, err := parser.ParseArgs(args); err != nil {
		if isHelp(err) {
			parser.WriteHelp(stdout)
			return opts, 0, false
		}
		parser.WriteHelp(stderr)
		_, _ = fmt.Fprintf(stderr, "\n\nerror parsing command line: %v\n", err)
		return opts, 1, false
	}
	if opts.Repeat == 0 {
		_, _ = fmt.Fprintf(stderr, "repeat must be at least 1\n")
		return opts, 1, false
	}
	return opts, 0, true
}

// isHelp is a helper to test the error from ParseArgs() to
// determine if the help message was requested.
func isHelp(err error) bool {
	flagError, ok := err.(*flags.Error)
	return ok && flagError.Type == flags.ErrHelp
}
