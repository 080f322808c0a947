package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func argsOf(t *testing.T, values ...string) cli.Args {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	require.NoError(t, set.Parse(values))
	return cli.NewContext(nil, set, nil).Args()
}

func TestParseFloor(t *testing.T) {
	floor, err := parseFloor(argsOf(t, "150"))
	require.NoError(t, err)
	assert.Equal(t, 150, floor)

	floor, err = parseFloor(argsOf(t, "0"))
	require.NoError(t, err)
	assert.Equal(t, 0, floor)

	for _, args := range [][]string{{}, {"ten"}, {"1.5"}, {"1", "2"}} {
		_, err := parseFloor(argsOf(t, args...))
		assert.Error(t, err, "%v", args)
	}
}

func TestApp_UsageErrors(t *testing.T) {
	for _, args := range [][]string{
		{"harvester"},
		{"harvester", "abc"},
		{"harvester", "--log-level", "debug", "1", "2"},
	} {
		var stderr bytes.Buffer
		app := newApp()
		app.ErrWriter = &stderr

		err := app.Run(args)
		require.Error(t, err)

		var exitErr cli.ExitCoder
		require.ErrorAs(t, err, &exitErr)
		assert.Equal(t, exitUsage, exitErr.ExitCode())
		assert.Contains(t, stderr.String(), "usage: harvester")
	}
}

func TestSetupLogger(t *testing.T) {
	t.Run("valid levels", func(t *testing.T) {
		for _, level := range []string{"debug", "INFO", "Warn", "error"} {
			app := &cli.App{
				Name:   "test",
				Flags:  []cli.Flag{&cli.StringFlag{Name: "log-level", Value: "info"}},
				Before: setupLogger,
				Action: func(c *cli.Context) error { return nil },
			}
			require.NoError(t, app.Run([]string{"test", "--log-level", level}))
		}
	})

	t.Run("invalid level returns error", func(t *testing.T) {
		app := &cli.App{
			Name:   "test",
			Flags:  []cli.Flag{&cli.StringFlag{Name: "log-level", Value: "info"}},
			Before: setupLogger,
			Action: func(c *cli.Context) error { return nil },
		}
		err := app.Run([]string{"test", "--log-level", "verbose"})
		assert.ErrorContains(t, err, "invalid log level")
	})
}

func TestShutdownLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	shutdownLogged(logger, "telemetry", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok, "shutdown is bounded")
		return errors.New("exporter unreachable")
	})
	assert.Contains(t, buf.String(), "telemetry shutdown error")
	assert.Contains(t, buf.String(), "exporter unreachable")

	buf.Reset()
	shutdownLogged(logger, "HTTP server", func(context.Context) error { return nil })
	assert.Empty(t, buf.String())
}
