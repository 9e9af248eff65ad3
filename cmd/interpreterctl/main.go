package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/logging"
	"github.com/loqalabs/loqa-interpreter/internal/translate"
)

var version = "0.1.0-dev"

func main() {
	var configPath string
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateCmd.StringVar(&configPath, "file", "interpreter.yaml", "Path to configuration file")

	var (
		translateConfig string
		from, to        string
	)
	translateCmd := flag.NewFlagSet("translate", flag.ExitOnError)
	translateCmd.StringVar(&translateConfig, "config", "", "Path to configuration file (defaults when empty)")
	translateCmd.StringVar(&from, "from", "en-US", "Source language tag")
	translateCmd.StringVar(&to, "to", "ja-JP", "Target language tag")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'validate', 'translate' or 'version'")
		os.Exit(2)
	}

	switch os.Args[1] {
	case "validate":
		validateCmd.Parse(os.Args[2:])
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println("config valid")
	case "translate":
		translateCmd.Parse(os.Args[2:])
		text := strings.Join(translateCmd.Args(), " ")
		if strings.TrimSpace(text) == "" {
			fmt.Fprintln(os.Stderr, "usage: interpreterctl translate [-config file] [-from tag] [-to tag] text...")
			os.Exit(2)
		}
		out, err := runTranslate(translateConfig, from, to, text)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(out)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
}

func runTranslate(configPath, from, to, text string) (string, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return "", err
		}
		cfg = loaded
	}
	logger := logging.NewWithWriter(os.Stderr, "warn")
	tr, err := translate.FromConfig(cfg.Translation, logger)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), config.Millis(cfg.Translation.TimeoutMS))
	defer cancel()
	res, err := tr.Translate(ctx, translate.Request{Text: text, Source: from, Target: to})
	if err != nil {
		return "", err
	}
	logger.Debug("translated", slog.String("provider", res.Provider))
	return res.Text, nil
}
