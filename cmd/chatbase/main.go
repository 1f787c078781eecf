// Package main is the entry point for the chatbase service.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kart-io/chatbase/internal/chatbase"
)

const appDescription = `Chatbase - document-grounded chat service

The service lets users upload documents, group them into knowledge bases,
and hold conversations answered with retrieval-augmented generation:

  - Document ingestion: extraction, chunking, vector embedding
  - Semantic similarity search over documents and knowledge bases
  - Multi-turn chat with retrieval tool-calling and streaming`

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := chatbase.NewOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:           "chatbase",
		Short:         "Document-grounded chat service",
		Long:          appDescription,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadConfig(cmd, configFile, opts); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return chatbase.Run(opts)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to the configuration file")
	opts.AddFlags(cmd.Flags())
	return cmd
}

// loadConfig 合并配置文件、环境变量与命令行参数，优先级从低到高。
func loadConfig(cmd *cobra.Command, configFile string, opts *chatbase.Options) error {
	v := viper.New()
	v.SetEnvPrefix("CHATBASE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := v.Unmarshal(opts); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
