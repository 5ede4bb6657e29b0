package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagUsername string
	flagTLS      bool
	flagInsecure bool
)

var rootCmd = &cobra.Command{
	Use:   "tinapay",
	Short: "Radioactive Tinapay session client",
	Long:  "Chat and flag submission client for Radioactive Tinapay sessions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := NewClient(flagServer, flagUsername, flagTLS, flagInsecure)
		return c.Run()
	},
}

func init() {
	defaultUser := os.Getenv("USER")
	if defaultUser == "" {
		defaultUser = os.Getenv("USERNAME")
	}

	rootCmd.Flags().StringVarP(&flagServer, "server", "s", "localhost:1107", "server address (host:port)")
	rootCmd.Flags().StringVarP(&flagUsername, "username", "u", defaultUser, "username to authenticate as")
	rootCmd.Flags().BoolVar(&flagTLS, "tls", false, "connect with wss:// instead of ws://")
	rootCmd.Flags().BoolVarP(&flagInsecure, "insecure", "k", false, "skip TLS certificate verification")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
