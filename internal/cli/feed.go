package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/centrifugal/gocomet"
	"github.com/centrifugal/gocomet/internal/app"
	"github.com/centrifugal/gocomet/internal/protocol"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type publisherFlags struct {
	configFile string
	host       string
}

func (f *publisherFlags) define(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&f.configFile, "config", "c", "config.json", "path to config file")
	cmd.PersistentFlags().StringVarP(&f.host, "host", "", "", "gocomet server host[:port], overrides client.host")
}

func (f *publisherFlags) publisher() (*gocomet.Publisher, error) {
	cfg, _, _ := app.LoadConfig(nil, f.configFile)
	if f.host != "" {
		cfg.Client.Host = f.host
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return gocomet.NewPublisher(app.PublisherConfig(cfg, log.Logger))
}

func exitOnError(err error) {
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
}

// Feed publishes data into server channels.
func Feed() *cobra.Command {
	flags := &publisherFlags{}
	feedCmd := &cobra.Command{
		Use:   "feed",
		Short: "Publish data into gocomet server channel",
		Long:  `Publish data into gocomet server channel with create, update or clear command`,
	}
	flags.define(feedCmd)

	for _, command := range []string{protocol.CommandCreate, protocol.CommandUpdate} {
		feedCmd.AddCommand(&cobra.Command{
			Use:   command + " <channel> <data>",
			Short: "Send " + command + " command with data to channel",
			Args:  cobra.ExactArgs(2),
			Run: func(cmd *cobra.Command, args []string) {
				p, err := flags.publisher()
				exitOnError(err)
				exitOnError(feed(cmd.Context(), p, command, args))
			},
		})
	}
	feedCmd.AddCommand(&cobra.Command{
		Use:   protocol.CommandClear + " <channel>",
		Short: "Send clear command to channel",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			p, err := flags.publisher()
			exitOnError(err)
			exitOnError(feed(cmd.Context(), p, protocol.CommandClear, args))
		},
	})
	return feedCmd
}

func feed(ctx context.Context, p *gocomet.Publisher, command string, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	switch command {
	case protocol.CommandCreate:
		return p.Create(ctx, args[0], args[1])
	case protocol.CommandUpdate:
		return p.Update(ctx, args[0], args[1])
	case protocol.CommandClear:
		return p.Clear(ctx, args[0])
	default:
		return fmt.Errorf("unknown feed command: %s", command)
	}
}

// Ping checks that gocomet server is alive.
func Ping() *cobra.Command {
	flags := &publisherFlags{}
	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Check gocomet server is alive",
		Long:  `Send ping command to gocomet server and wait for pong`,
		Run: func(cmd *cobra.Command, args []string) {
			p, err := flags.publisher()
			exitOnError(err)
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			exitOnError(p.Ping(ctx))
			fmt.Println("pong")
		},
	}
	flags.define(pingCmd)
	return pingCmd
}
