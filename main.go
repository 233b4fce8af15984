package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/cors"
	"github.com/joules/server/api"
	"github.com/joules/server/meeting"
	"github.com/joules/server/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var version = "dev" // set via ldflags at build time

func newHandler(token string, allowedOrigins []string, store meeting.Store, wsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	api.NewMeetingHandler(store).Register(mux)

	if wsHandler != nil {
		mux.Handle("GET /ws", wsHandler)
	}

	authed := middleware.Auth(token)(mux)

	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	})(authed)
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "joules",
		Short: "Record meetings, transcribe, and summarize",
		Long: `Joules records or picks up meeting audio, sends it to a transcription
service, summarizes the transcript, and keeps a local history of meetings.

Run "joules serve" to expose sessions to browser and mobile clients over
WebSocket, or use the commands below directly from the terminal.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/joules/config.yaml)")
	flags.StringVar(&a.overrides.dataDir, "data-dir", "", "directory for meeting history and logs")
	flags.StringVar(&a.overrides.backendURL, "backend-url", "", "transcription/summarization service URL")
	flags.StringVar(&a.overrides.store, "store", "", `history backend: "file" or "sqlite"`)

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newProcessCmd(a))
	rootCmd.AddCommand(newRecordCmd(a))
	rootCmd.AddCommand(newListCmd(a))
	rootCmd.AddCommand(newShowCmd(a))
	rootCmd.AddCommand(newDeleteCmd(a))
	rootCmd.AddCommand(newClearCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
