package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"guarddog/internal/model"
	"guarddog/internal/pipeline"
	"guarddog/internal/rules"
	"guarddog/internal/utils"

	"github.com/sirupsen/logrus"
)

// exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitFindings = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile = flag.String("config", "configs/guarddog.yaml", "Configuration file path (YAML)")
		rulesFile  = flag.String("rules", "", "Rules document (overrides application.rules_file)")
		kind       = flag.String("kind", "text", "Record kind: text, logs, document, transactions, telemetry, api_calls or batches")
		input      = flag.String("input", "-", "Input file, - reads stdin")
		source     = flag.String("source", "", "Source label for text, logs and document input")
		logLevel   = flag.String("log-level", "", "Log level (overrides logging.level)")
		failOn     = flag.String("fail-on", "", "Exit with status 3 when a finding reaches this severity")
	)
	flag.Parse()

	config, err := utils.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load YAML config %s: %v\n", *configFile, err)
		fmt.Fprintln(os.Stderr, "Using default configuration...")
		config = utils.GetDefaultConfig()
	}
	if *rulesFile != "" {
		config.Application.RulesFile = *rulesFile
	}
	if *logLevel != "" {
		config.Logging.Level = *logLevel
	}

	logger := utils.NewLogger(config.Logging.Level, config.Logging.Format)
	logger.SetOutput(os.Stderr)

	var threshold model.Severity
	if *failOn != "" {
		if threshold, err = model.ParseSeverity(*failOn); err != nil {
			logger.Errorf("Invalid -fail-on: %v", err)
			return exitError
		}
	}

	catalog, err := rules.LoadFile(config.Application.RulesFile, config.LoadOptions(logger)...)
	if err != nil {
		logger.Errorf("Failed to load rules: %v", err)
		return exitError
	}
	for _, problem := range catalog.Problems() {
		logger.Warnf("Skipped rule category: %v", problem)
	}

	engine := rules.NewEngine(catalog, logger)
	utils.RegisterNotifiersFromYAML(engine, config, logger)
	defer engine.Close()

	batches, err := readBatches(*input, *kind, *source)
	if err != nil {
		logger.Errorf("Failed to read input: %v", err)
		return exitError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	processor := pipeline.NewProcessor(engine, logger, rules.WithWorkers(config.Application.Workers))
	findings, err := processor.Process(ctx, batches...)
	if err != nil {
		logger.Errorf("Scan failed: %v", err)
		return exitError
	}

	if err := printFindings(os.Stdout, findings); err != nil {
		logger.Errorf("Failed to write findings: %v", err)
		return exitError
	}

	logger.WithFields(logrus.Fields{
		"batches":  len(batches),
		"findings": len(findings),
	}).Info("Scan complete")

	if threshold != "" && reached(findings, threshold) {
		return exitFindings
	}
	return exitOK
}

func readBatches(path, kind, source string) ([]pipeline.Batch, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}

	switch pipeline.Kind(kind) {
	case "batches":
		var batches []pipeline.Batch
		if err := json.Unmarshal(data, &batches); err != nil {
			return nil, fmt.Errorf("failed to decode batches: %v", err)
		}
		return batches, nil

	case pipeline.KindLogs:
		// raw log files are accepted as-is
		if !json.Valid(data) {
			blob, _ := json.Marshal(string(data))
			data = blob
		}
	}

	return []pipeline.Batch{{
		Kind:    pipeline.Kind(kind),
		Source:  source,
		Records: json.RawMessage(data),
	}}, nil
}

func printFindings(w io.Writer, findings []model.Finding) error {
	if findings == nil {
		findings = []model.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}

func reached(findings []model.Finding, threshold model.Severity) bool {
	for _, f := range findings {
		if f.Severity.AtLeast(threshold) {
			return true
		}
	}
	return false
}
