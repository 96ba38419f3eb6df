package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kestrelmq/kestrel/client"
)

var (
	brokerAddr string
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:          "kestrel-cli",
	Short:        "Command-line client for the kestrel broker",
	SilenceUsage: true,
}

func newClient() *client.Client {
	return client.NewClient(client.ClientConfig{BrokerAddr: brokerAddr, Timeout: timeout})
}

var createTopicCmd = &cobra.Command{
	Use:   "create-topic <name> <partitions>",
	Short: "Create a topic",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var partitions int32
		if _, err := fmt.Sscanf(args[1], "%d", &partitions); err != nil {
			return fmt.Errorf("invalid partition count %q", args[1])
		}
		if err := newClient().CreateTopic(args[0], partitions); err != nil {
			return err
		}
		fmt.Printf("Created topic %s with %d partitions\n", args[0], partitions)
		return nil
	},
}

var deleteTopicCmd = &cobra.Command{
	Use:   "delete-topic <name>",
	Short: "Delete a topic and its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteTopic(args[0]); err != nil {
			return err
		}
		fmt.Printf("Deleted topic %s\n", args[0])
		return nil
	},
}

var listTopicsCmd = &cobra.Command{
	Use:   "list-topics",
	Short: "List topics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		topics, err := newClient().ListTopics()
		if err != nil {
			return err
		}
		for _, topic := range topics {
			fmt.Printf("%s\tpartitions=%d\tcreated=%s\n",
				topic.Name, topic.Partitions, topic.CreatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var topicInfoCmd = &cobra.Command{
	Use:   "topic-info <name>",
	Short: "Show per-partition offset ranges for a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partitions, err := newClient().GetTopicInfo(args[0])
		if err != nil {
			return err
		}
		for _, p := range partitions {
			fmt.Printf("partition=%d\tlow=%d\thigh=%d\tsegments=%d\n",
				p.Partition, p.LowWatermark, p.HighWatermark, p.Segments)
		}
		return nil
	},
}

var (
	produceKey         string
	producePartition   int32
	produceCompression string
)

var produceCmd = &cobra.Command{
	Use:   "produce <topic> <value>...",
	Short: "Produce messages to a topic",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		strategy := client.PartitionRoundRobin
		if produceKey != "" {
			strategy = client.PartitionByKey
		}
		producer, err := client.NewProducer(newClient(), client.ProducerConfig{
			Strategy:    strategy,
			Compression: produceCompression,
		})
		if err != nil {
			return err
		}

		var messages []client.ProducerMessage
		for _, value := range args[1:] {
			msg := client.ProducerMessage{
				Topic:     args[0],
				Partition: producePartition,
				Value:     []byte(value),
			}
			if produceKey != "" {
				msg.Key = []byte(produceKey)
			}
			messages = append(messages, msg)
		}

		offsets, err := producer.Send(messages)
		if err != nil {
			return err
		}
		for partition, offset := range offsets {
			fmt.Printf("partition=%d base_offset=%d\n", partition, offset)
		}
		return nil
	},
}

var (
	consumeOffset   int64
	consumeMaxBytes int32
)

var consumeCmd = &cobra.Command{
	Use:   "consume <topic> <partition>",
	Short: "Fetch messages from one partition by offset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var partition int32
		if _, err := fmt.Sscanf(args[1], "%d", &partition); err != nil {
			return fmt.Errorf("invalid partition %q", args[1])
		}

		result, err := client.NewConsumer(newClient()).Fetch(args[0], partition, consumeOffset, consumeMaxBytes)
		if err != nil {
			return err
		}
		for _, msg := range result.Messages {
			fmt.Printf("offset=%d key=%q value=%q\n", msg.Offset, msg.Key, msg.Value)
		}
		fmt.Printf("next_offset=%d high_watermark=%d\n", result.NextOffset, result.HighWatermark)
		return nil
	},
}

var (
	groupID        string
	sessionTimeout time.Duration
)

var groupConsumeCmd = &cobra.Command{
	Use:   "group-consume <topics>",
	Short: "Consume topics as a consumer group member until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer := client.NewGroupConsumer(newClient(), client.GroupConsumerConfig{
			GroupID:        groupID,
			ClientID:       "kestrel-cli",
			Topics:         strings.Split(args[0], ","),
			SessionTimeout: sessionTimeout,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return consumer.Consume(ctx, func(msg client.ConsumedMessage) error {
			fmt.Printf("topic=%s partition=%d offset=%d key=%q value=%q\n",
				msg.Topic, msg.Partition, msg.Offset, msg.Key, msg.Value)
			return nil
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&brokerAddr, "broker", "b", "localhost:9092", "broker address")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	produceCmd.Flags().StringVar(&produceKey, "key", "", "message key (enables key hashing)")
	produceCmd.Flags().Int32Var(&producePartition, "partition", -1, "explicit partition, -1 to auto-select")
	produceCmd.Flags().StringVar(&produceCompression, "compression", "", "compression codec: gzip, zlib, snappy, zstd")

	consumeCmd.Flags().Int64Var(&consumeOffset, "offset", 0, "start offset")
	consumeCmd.Flags().Int32Var(&consumeMaxBytes, "max-bytes", 1<<20, "max bytes per fetch")

	groupConsumeCmd.Flags().StringVarP(&groupID, "group", "g", "kestrel-cli", "consumer group ID")
	groupConsumeCmd.Flags().DurationVar(&sessionTimeout, "session-timeout", 30*time.Second, "session timeout")

	rootCmd.AddCommand(createTopicCmd, deleteTopicCmd, listTopicsCmd, topicInfoCmd,
		produceCmd, consumeCmd, groupConsumeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
