package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// AmberFormatter is a custom logrus formatter with amber terminal aesthetics
type AmberFormatter struct{}

func (f *AmberFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	// ANSI color codes
	const (
		amber       = "\033[33m"
		brightAmber = "\033[93m"
		darkAmber   = "\033[38;5;130m"
		reset       = "\033[0m"
		bold        = "\033[1m"
		dim         = "\033[2m"
	)

	timestamp := entry.Time.Format("2006-01-02 15:04:05")

	var levelColor string
	var levelSymbol string

	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		levelColor = brightAmber
		levelSymbol = "[!]"
	case logrus.WarnLevel:
		levelColor = amber
		levelSymbol = "[~]"
	case logrus.InfoLevel:
		levelColor = amber
		levelSymbol = "[+]"
	default:
		levelColor = darkAmber
		levelSymbol = "[*]"
	}

	// Format: [TIME] [SYMBOL] MESSAGE
	output := fmt.Sprintf("%s[%s]%s %s%s%s %s%s%s\n",
		dim+darkAmber, timestamp, reset,
		bold+levelColor, levelSymbol, reset,
		amber, entry.Message, reset,
	)

	return []byte(output), nil
}

var (
	flagListen   string
	flagDB       string
	flagTLS      bool
	flagCert     string
	flagKey      string
	flagName     string
	flagDetails  string
	flagMaxUsers int
	flagDebug    bool
)

var rootCmd = &cobra.Command{
	Use:   "tinapay-server",
	Short: "Radioactive Tinapay session server",
	Long:  "Operator-controlled chat and scoring server for attack/defense exercises.",
	RunE:  runServer,
}

func init() {
	rootCmd.Flags().StringVarP(&flagListen, "listen", "l", ":1107", "listen address")
	rootCmd.Flags().StringVar(&flagDB, "db", "", "sqlite database path (default session_<timestamp>.db)")
	rootCmd.Flags().BoolVar(&flagTLS, "tls", false, "serve wss:// (self-signed cert generated when none given)")
	rootCmd.Flags().StringVar(&flagCert, "cert", "", "TLS certificate file")
	rootCmd.Flags().StringVar(&flagKey, "key", "", "TLS private key file")
	rootCmd.Flags().StringVarP(&flagName, "name", "n", "Radioactive Tinapay", "session name")
	rootCmd.Flags().StringVar(&flagDetails, "details", "", "session details")
	rootCmd.Flags().IntVar(&flagMaxUsers, "max-users", 0, "maximum users (0 = unlimited, informational)")
	rootCmd.Flags().BoolVar(&flagDebug, "debug", false, "log raw wire frames")
}

func runServer(cmd *cobra.Command, args []string) error {
	logrus.SetFormatter(&AmberFormatter{})
	if flagDebug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.InfoLevel)
	}

	// Display banner
	banner := `
  ████████ ██ ███    ██  █████  ██████   █████  ██    ██
     ██    ██ ████   ██ ██   ██ ██   ██ ██   ██  ██  ██
     ██    ██ ██ ██  ██ ███████ ██████  ███████   ████
     ██    ██ ██  ██ ██ ██   ██ ██      ██   ██    ██
     ██    ██ ██   ████ ██   ██ ██      ██   ██    ██
`
	fmt.Printf("\033[33m%s\033[0m\n", banner)
	fmt.Printf("\033[33m  Radioactive Tinapay - Session Server\033[0m\n")
	fmt.Printf("\033[2m\033[33m  Operator Console & Scoring Infrastructure\033[0m\n\n")

	dbPath := flagDB
	if dbPath == "" {
		dbPath = fmt.Sprintf("session_%s.db", time.Now().Format("20060102_150405"))
	}

	db, err := NewDatabase(dbPath)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	logrus.Infof("Database initialized: %s", dbPath)

	if err := db.RecordSessionDetails(flagName, flagDetails, flagMaxUsers, time.Now()); err != nil {
		logrus.Fatalf("Failed to record session details: %v", err)
	}
	logrus.Infof("Session `%s` recorded (max users: %d)", flagName, flagMaxUsers)

	certFile, keyFile := flagCert, flagKey
	if flagTLS && certFile == "" && keyFile == "" {
		certFile, keyFile = "server.crt", "server.key"
		host, _, err := net.SplitHostPort(flagListen)
		if err != nil {
			host = ""
		}
		if err := loadOrGenerateCertificate(certFile, keyFile, host); err != nil {
			logrus.Fatalf("Failed to prepare TLS certificate: %v", err)
		}
		logrus.Infof("Using self-signed certificate: %s", certFile)
	}

	srv := NewServer(db, flagDebug)

	go func() {
		if err := srv.Listen(flagListen, certFile, keyFile); err != nil {
			logrus.Fatalf("Server error: %v", err)
		}
	}()

	NewConsole(srv).Run()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
