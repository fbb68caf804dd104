package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/doerhq/bridge/bridge"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "bridgectl",
		Usage: "interactive client for the command-execution bridge",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "The bridge server host.",
				Value: "127.0.0.1",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "The bridge server port.",
				Value: 3003,
			},
			&cli.StringFlag{
				Name:  "connect-timeout",
				Usage: "How long to wait for the server to come up.",
				Value: "5s",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cliCtx *cli.Context) error {
	connectTimeout, err := time.ParseDuration(cliCtx.String("connect-timeout"))
	if err != nil {
		return fmt.Errorf("parsing connect timeout: %w", err)
	}

	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	client := bridge.NewClient(logger.Sugar(), cliCtx.String("host"), cliCtx.Int("port"))

	ctx := context.Background()
	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.WaitForServer(waitCtx); err != nil {
		return fmt.Errorf("waiting for server: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range client.Events() {
			if ev.Type == bridge.EventConsoleOutput {
				fmt.Print(ev.Data)
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := client.Send(ctx, line); err != nil {
			return fmt.Errorf("sending command: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading stdin: %w", err)
	}

	client.Close()
	<-done
	return nil
}
