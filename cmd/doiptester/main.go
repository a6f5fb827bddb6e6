// Command doiptester is the interactive DoIP/UDS diagnostic tester: it
// loads a Configuration and optional Sequence Document, runs the sequence
// if one was given, then drops into an interactive `name:action` prompt
// (spec.md §6 CLI surface).
//
// Grounded on cmd/sdo_client/main.go's flag.String + log.SetLevel startup
// shape, adapted from a fixed demo script to a config/sequence-driven run.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/banh1996/go-doip-tester/pkg/config"
	"github.com/banh1996/go-doip-tester/pkg/executor"
	"github.com/banh1996/go-doip-tester/pkg/sequence"
	log "github.com/sirupsen/logrus"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the tester configuration JSON file (required)")
	sequencePath := flag.String("sequence", "", "path to a sequence document JSON file to run before the interactive prompt")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	if *debug || os.Getenv("DOIPTESTER_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
	}

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "doiptester: --config is required")
		flag.Usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Errorf("doiptester: %v", err)
		return 1
	}

	session := executor.NewSession(config.NewStore(cfg))

	if *sequencePath != "" {
		doc, err := sequence.Load(*sequencePath)
		if err != nil {
			log.Errorf("doiptester: %v", err)
			return 1
		}
		if err := session.RunSequence(doc); err != nil {
			log.Errorf("doiptester: sequence failed: %v", err)
			return 1
		}
		log.Info("doiptester: sequence completed successfully")
	}

	return interactivePrompt(session)
}

// interactivePrompt reads `name:action` lines from stdin, e.g.
// "send_diag:1001" or "socket:connect", until EOF or a "quit"/"exit" line.
// Blank lines are skipped.
func interactivePrompt(session *executor.Session) int {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("doiptester interactive mode — enter name:action lines, or \"quit\" to exit")

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		item, err := parsePromptLine(line)
		if err != nil {
			log.Warnf("doiptester: %v", err)
			continue
		}
		if err := session.RunItem(item); err != nil {
			log.Errorf("doiptester: %v", err)
			continue
		}
		fmt.Println("ok")
	}

	if err := scanner.Err(); err != nil {
		log.Errorf("doiptester: reading stdin: %v", err)
		return 1
	}
	return 0
}

// parsePromptLine turns a `name:action[,action...]` line into a
// sequence.Item with one expect-everything ("*") entry per action,
// matching the interactive prompt's lack of a scripted expect pattern.
func parsePromptLine(line string) (sequence.Item, error) {
	parts := strings.SplitN(line, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return sequence.Item{}, fmt.Errorf("malformed prompt line %q, expected name:action", line)
	}
	name := parts[0]
	actions := strings.Split(parts[1], ",")
	expect := make([]string, len(actions))
	for i := range expect {
		expect[i] = "*"
	}
	return sequence.Item{
		Name:    name,
		Action:  sequence.StringOrList(actions),
		Expect:  expect,
		Timeout: "5000ms",
	}, nil
}
