package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	kafkaadapter "github.com/couchcryptid/sdr-runner/internal/adapter/kafka"
	"github.com/couchcryptid/sdr-runner/internal/config"
	"github.com/couchcryptid/sdr-runner/internal/domain"
	"github.com/couchcryptid/sdr-runner/internal/observability"
)

func newNotifyCommand(opts *rootOptions) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "notify RDR_FILE...",
		Short: "Announce local RDR files on the subscribe topic, as the receiving station would",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, pub, err := opts.loadProfile()
			if err != nil {
				return err
			}
			if topic == "" {
				topic = profile.SubscribeTopics[0]
			}
			msgs, err := fileNotifications(topic, profile.Sensor, args)
			if err != nil {
				return err
			}

			logger, logCloser, err := observability.NewLogger(observability.LogOptions{Level: opts.logLevel, Format: opts.logFormat})
			if err != nil {
				return err
			}
			defer logCloser.Close()

			// The runner subscribes without a prefix, so only the transport
			// settings of the publisher file apply here.
			w := kafkaadapter.NewWriter(profile, config.Publisher{
				Brokers:      pub.Brokers,
				ClientID:     pub.ClientID,
				RequiredAcks: pub.RequiredAcks,
			}, logger)
			defer w.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			for _, n := range msgs {
				if err := w.Publish(ctx, n); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "announced %s on %s\n", n.UID, n.Topic)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Topic to announce on (default: first subscribe topic)")
	return cmd
}

// fileNotifications builds file notifications from the granule stamps of
// the given RDR file names.
func fileNotifications(topic, sensor string, paths []string) ([]domain.Notification, error) {
	out := make([]domain.Notification, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		stamp, err := domain.ParseFileStamp(abs)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Notification{
			Topic:        topic,
			Type:         domain.TypeFile,
			URI:          abs,
			UID:          filepath.Base(abs),
			PlatformName: domain.PlatformDisplayName(stamp.Platform),
			Sensor:       []string{sensor},
			StartTime:    stamp.Start,
			EndTime:      stamp.End,
			OrbitNumber:  stamp.Orbit,
		})
	}
	return out, nil
}
