package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"buy-process-service/config"
	"buy-process-service/internal/broker"
	"buy-process-service/internal/models"
	"buy-process-service/internal/rules"
	"buy-process-service/internal/store"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "buyctl",
		Short:        "Operate the buy process service",
		SilenceUsage: true,
	}

	root.AddCommand(
		rulesCommand(),
		showCommand(),
		failedCommand(),
		messagesCommand(),
		invalidateMessagesCommand(),
	)
	return root
}

func rulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List validation rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeRules(cmd.OutOrStdout())
		},
	}
}

func writeRules(out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRIORITY\tRULE\tVALUE TYPE\tMANDATORY")

	catalogue := rules.All()
	last := 0
	for _, r := range catalogue {
		for p := last + 1; p < r.Priority; p++ {
			fmt.Fprintf(tw, "%d\t(reserved)\t-\t-\n", p)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\n", r.Priority, r.Name, r.ValueType, r.Mandatory)
		last = r.Priority
	}
	return tw.Flush()
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored buy process as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid buy process id %q", args[0])
			}

			db, err := store.NewStore(config.Load().Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			bp, err := db.GetBuyProcessByID(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), bp)
		},
	}
}

func failedCommand() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "failed",
		Short: "List buy processes whose provisioning stopped part way",
		Long: `List buy processes in a FAILED_<STAGE> status.

FAILED_APPROVE and FAILED_DISBURSE records already have a loan upstream and
need manual reconciliation.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := models.Status(status)
			switch st {
			case models.StatusFailedCreate, models.StatusFailedApprove, models.StatusFailedDisburse:
			default:
				return fmt.Errorf("status must be one of FAILED_CREATE, FAILED_APPROVE, FAILED_DISBURSE")
			}

			db, err := store.NewStore(config.Load().Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			records, err := db.ListBuyProcessesByStatus(cmd.Context(), st, limit)
			if err != nil {
				return fmt.Errorf("failed to list buy processes: %w", err)
			}
			return writeFailures(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().StringVar(&status, "status", string(models.StatusFailedApprove), "Failed status to list")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of records")
	return cmd
}

func writeFailures(out io.Writer, records []models.BuyProcess) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tLOAN\tSTAGE\tFOLLOW UP\tERROR")
	for _, bp := range records {
		loan := "-"
		if bp.LoanID != nil {
			loan = strconv.FormatInt(*bp.LoanID, 10)
		}
		stage, ok := bp.FailedAt()
		if !ok {
			continue
		}
		followUp := bp.FollowUp
		if followUp == "" {
			followUp = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", bp.ID, loan, stage, followUp, bp.StageError)
	}
	return tw.Flush()
}

func messagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <channel-id>",
		Short: "List the rule messages configured for a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid channel id %q", args[0])
			}

			db, err := store.NewStore(config.Load().Database.URL)
			if err != nil {
				return err
			}
			defer db.Close()

			messages, err := db.ListChannelMessages(cmd.Context(), channelID)
			if err != nil {
				return fmt.Errorf("failed to list channel messages: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PRIORITY\tRULE\tMESSAGE")
			for _, m := range messages {
				name := "(reserved)"
				if r, ok := rules.ByPriority(m.RulePriority); ok {
					name = string(r.Name)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", m.RulePriority, name, m.Message)
			}
			return tw.Flush()
		},
	}
}

func invalidateMessagesCommand() *cobra.Command {
	var channelID int64

	cmd := &cobra.Command{
		Use:   "invalidate-messages",
		Short: "Tell every instance to drop its cached channel messages",
		Long: `Publish a CHANNEL_MESSAGES_UPDATED event. Every running instance consumes it
and drops its cached messages for the channel, or all of them when --channel
is not given. Run it after editing channel_messages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()

			producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicChannelMessages)
			defer producer.Close()
			publisher := broker.NewEventPublisher(nil, producer)

			event := newChannelMessagesUpdated(channelID)
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			if err := publisher.PublishChannelMessagesUpdated(ctx, event); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s (channel %d)\n", event.EventID, channelID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&channelID, "channel", 0, "Channel whose messages changed (0 for all)")
	return cmd
}

func newChannelMessagesUpdated(channelID int64) *models.ChannelMessagesUpdatedEvent {
	return &models.ChannelMessagesUpdatedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeChannelMessagesUpdated,
			Timestamp: time.Now(),
		},
		ChannelID: channelID,
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
