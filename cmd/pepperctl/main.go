// Command pepperctl drives a pepper controller from the command line,
// either against a real radio stack wired in elsewhere or, via the demo
// subcommand, against the in-memory fakes so two local peers can meet
// without any hardware.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/op/go-logging"
	"github.com/urfave/cli"

	"github.com/future-proof-iot/pepper/internal/pepper/config"
	"github.com/future-proof-iot/pepper/internal/pepper/controller"
	"github.com/future-proof-iot/pepper/internal/pepper/faketest"
	"github.com/future-proof-iot/pepper/internal/pepper/plog"
	"github.com/future-proof-iot/pepper/internal/pepper/sink"
)

func demoCommand(c *cli.Context) error {
	log := plog.Setup("pepperctl", logging.INFO)

	epochDuration := time.Duration(c.Int("epoch-seconds")) * time.Second
	iterations := uint32(c.Int("iterations"))
	advInterval := time.Duration(c.Int("adv-interval-ms")) * time.Millisecond

	epochParams := config.DefaultEpochParams()
	epochParams.Duration = epochDuration
	epochParams.Iterations = iterations
	epochParams.MinExposure = epochDuration / 10

	advParams := config.DefaultAdvertiserParams()
	advParams.Interval = advInterval

	broker := faketest.NewBroker()
	clock := faketest.NewClock()

	alice := controller.New(
		faketest.NewAdvertiser(broker, "alice", -50),
		faketest.NewScanner(broker, "alice"),
		faketest.NewUWB(),
		clock,
		sink.NewConsoleSink(os.Stdout),
		log,
	)
	bob := controller.New(
		faketest.NewAdvertiser(broker, "bob", -55),
		faketest.NewScanner(broker, "bob"),
		faketest.NewUWB(),
		clock,
		sink.NewConsoleSink(os.Stdout),
		log,
	)

	params := controller.Params{
		Epoch:      epochParams,
		Advertiser: advParams,
		Encounter:  config.DefaultEncounterParams(),
		TWR:        config.DefaultTWRParams(),
	}

	if err := alice.Start(params); err != nil {
		return fmt.Errorf("pepperctl: alice start: %w", err)
	}
	if err := bob.Start(params); err != nil {
		return fmt.Errorf("pepperctl: bob start: %w", err)
	}

	runFor := epochDuration
	if iterations > 0 {
		runFor = epochDuration*time.Duration(iterations) + time.Second
	} else {
		runFor += time.Second
	}
	time.Sleep(runFor)

	_ = alice.Stop()
	_ = bob.Stop()
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "pepperctl"
	app.Usage = "drive a pepper contact-tracing controller"
	app.Version = "1.0.0"
	app.Commands = []cli.Command{
		cli.Command{
			Name:  "demo",
			Usage: "run two in-process peers against the in-memory fake radios and print their epoch summaries",
			Flags: []cli.Flag{
				cli.IntFlag{Name: "epoch-seconds", Value: 10, Usage: "epoch duration in seconds"},
				cli.IntFlag{Name: "iterations", Value: 1, Usage: "number of epochs to run; 0 leaves the controllers unbounded, but the demo still stops them after one epoch"},
				cli.IntFlag{Name: "adv-interval-ms", Value: 200, Usage: "milliseconds between advertisement events"},
			},
			Action: demoCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
