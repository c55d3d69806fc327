package main

import (
	"log"
	"os"

	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("golog", version)
	c.Args = os.Args[1:]
	c.Commands = Commands(ui)

	status, err := c.Run()
	if err != nil {
		log.Printf("[ERROR] golog: %v", err)
	}

	os.Exit(status)
}

// Commands returns the store commands writing to ui
func Commands(ui cli.Ui) map[string]cli.CommandFactory {
	meta := Meta{Ui: ui}

	return map[string]cli.CommandFactory{
		"append": func() (cli.Command, error) {
			return &AppendCommand{Meta: meta}, nil
		},
		"read": func() (cli.Command, error) {
			return &ReadCommand{Meta: meta}, nil
		},
		"readat": func() (cli.Command, error) {
			return &ReadAtCommand{Meta: meta}, nil
		},
		"dump": func() (cli.Command, error) {
			return &DumpCommand{Meta: meta}, nil
		},
		"stats": func() (cli.Command, error) {
			return &StatsCommand{Meta: meta}, nil
		},
	}
}
