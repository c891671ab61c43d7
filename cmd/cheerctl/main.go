package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

const description = `
cheerctl drives a running voice-cheer daemon over its panel WebSocket.
It speaks the same protocol as the panels, so every change it makes is
broadcast to them.
`

var globalFlags = []cli.Flag{
	cli.StringFlag{
		Name:   "addr, a",
		Usage:  "panel WebSocket address of the daemon",
		EnvVar: "CHEER_ADDR",
		Value:  "ws://localhost:8787/ws",
	},
	cli.DurationFlag{
		Name:   "timeout, t",
		Usage:  "how long to wait for the daemon to answer",
		EnvVar: "CHEER_TIMEOUT",
		Value:  defaultTimeout,
	},
	cli.BoolFlag{
		Name:  "json, j",
		Usage: "print raw JSON events",
	},
}

var startFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "interval, i",
		Usage: "minutes between messages",
		Value: 5,
	},
	cli.IntFlag{
		Name:  "speaker, s",
		Usage: "speaker (style) id; overrides --character/--style",
		Value: -1,
	},
	cli.StringFlag{
		Name:  "character, c",
		Usage: "character name, used with --style",
	},
	cli.StringFlag{
		Name:  "style",
		Usage: "style name of the character",
	},
	cli.StringFlag{
		Name:  "mode, m",
		Usage: "mode value (default: the catalog default)",
	},
}

var sampleFlags = []cli.Flag{
	cli.IntFlag{
		Name:  "speaker, s",
		Usage: "speaker (style) id",
		Value: -1,
	},
	cli.StringFlag{
		Name:  "character, c",
		Usage: "character name, used with --style",
	},
	cli.StringFlag{
		Name:  "style",
		Usage: "style name of the character",
	},
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = "cheerctl"
	app.HelpName = "cheerctl"
	app.Usage = "control a voice-cheer daemon"
	app.UsageText = "cheerctl [global options] <command> [arguments...]"
	app.Description = description
	app.Version = "1.0.0"
	app.Flags = globalFlags
	app.Commands = []cli.Command{
		{
			Name:   "status",
			Usage:  "show the current schedule",
			Action: status,
		},
		{
			Name:   "start",
			Usage:  "start or reconfigure the schedule; plays a message now",
			Flags:  startFlags,
			Action: start,
		},
		{
			Name:   "pause",
			Usage:  "freeze the countdown",
			Action: pause,
		},
		{
			Name:   "resume",
			Usage:  "resume a paused schedule where it stopped",
			Action: resume,
		},
		{
			Name:   "reset",
			Usage:  "stop and forget the schedule",
			Action: reset,
		},
		{
			Name:   "sample",
			Usage:  "play the sample phrase with a voice",
			Flags:  sampleFlags,
			Action: sample,
		},
		{
			Name:   "voices",
			Usage:  "list characters and their style ids",
			Action: voices,
		},
		{
			Name:   "watch",
			Usage:  "print events until interrupted",
			Action: watch,
		},
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cheerctl: %v\n", err)
		os.Exit(1)
	}
}
