// Command crag runs the corrective RAG engine as an HTTP server, an MCP
// stdio server or a one-shot terminal client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/crag/config"
	"github.com/sweetpotato0/crag/pkg/logging"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "crag",
	Short: "Corrective retrieval-augmented question answering",
	Long: `crag answers questions from a document index. It grades what it
retrieves, rewrites the query when the evidence is weak, falls back to web
search when rewriting does not help and asks the user to clarify vague
questions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "crag.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and sets up the
// process logger on w.
func loadConfig(w *os.File) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logging.SetLogger(logging.New(w, cfg.Log.Format, cfg.Log.Level))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
