// Command tubeprompt talks to a running tubeprompt server: it fetches a
// transcript from a browser tab and optionally hands it to a ChatGPT tab.
//
// Usage:
//
//	tubeprompt [-server URL] acquire [-tab ID] [-start 00:10 -end 01:30] [-deliver] [-lang fr] [-with-description]
//	tubeprompt [-server URL] tabs
//	tubeprompt [-server URL] pref get KEY
//	tubeprompt [-server URL] pref set KEY VALUE
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nijaru/tubeprompt/config"
	"github.com/nijaru/tubeprompt/models"
	"github.com/nijaru/tubeprompt/requester"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses with a private FlagSet per command so it can be driven from tests.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	global := flag.NewFlagSet("tubeprompt", flag.ContinueOnError)
	global.SetOutput(stderr)
	server := global.String("server", config.GetEnv("TUBEPROMPT_SERVER", "http://localhost:8080"), "server base URL")
	timeout := global.Duration("timeout", requester.DefaultTimeout, "how long to wait for a result")
	verbose := global.Bool("v", false, "verbose logging")
	if err := global.Parse(args); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetOutput(stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.WarnLevel)
	}
	client := requester.New(*server, logger, requester.WithTimeout(*timeout))

	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stdout)
		return nil
	}

	switch rest[0] {
	case "acquire":
		return runAcquire(ctx, stdout, stderr, client, rest[1:])
	case "tabs":
		return runTabs(ctx, stdout, client)
	case "pref":
		return runPref(ctx, stdout, client, rest[1:])
	case "help":
		printUsage(stdout)
		return nil
	default:
		return fmt.Errorf("unknown command: %s", rest[0])
	}
}

func runAcquire(ctx context.Context, stdout, stderr io.Writer, client *requester.Client, args []string) error {
	fs := flag.NewFlagSet("acquire", flag.ContinueOnError)
	fs.SetOutput(stderr)
	tab := fs.String("tab", "", "tab id (default: the active supported tab)")
	start := fs.String("start", "", "range start, mm:ss")
	end := fs.String("end", "", "range end, mm:ss")
	lang := fs.String("lang", "", "caption language / prompt target language")
	deliver := fs.Bool("deliver", false, "send the transcript to ChatGPT")
	chatTab := fs.String("chat-tab", "", "ChatGPT tab id (default: saved selection)")
	withDescription := fs.Bool("with-description", false, "append the video description to the prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := client.Acquire(ctx, models.AcquisitionRequest{
		RequestID:         uuid.NewString(),
		TargetTabID:       *tab,
		Range:             models.TimeRange{Start: *start, End: *end},
		PreferredLanguage: *lang,
	})
	if err != nil {
		var resErr *models.ResultError
		if errors.As(err, &resErr) {
			return fmt.Errorf("transcript unavailable (%s): %s", resErr.Kind, resErr.Detail)
		}
		return err
	}

	fmt.Fprintln(stdout, result.Transcript)
	if result.EstimatedTokenCount > 0 {
		fmt.Fprintf(stderr, "~%d tokens\n", result.EstimatedTokenCount)
	}
	if !*deliver {
		return nil
	}

	done, err := client.Deliver(ctx, models.PromptRequest{
		RequestID:          result.RequestID,
		Transcript:         result.Transcript,
		TargetLanguageCode: *lang,
		IncludeDescription: *withDescription,
		Description:        result.Description,
		ChatTabID:          *chatTab,
	})
	if err != nil {
		return errors.Wrap(err, "deliver")
	}
	fmt.Fprintf(stderr, "delivered %d characters to tab %s\n", done.CharCount, done.ChatTabID)
	return nil
}

func runTabs(ctx context.Context, stdout io.Writer, client *requester.Client) error {
	tabs, err := client.Tabs(ctx)
	if err != nil {
		return err
	}
	for _, t := range tabs {
		fmt.Fprintf(stdout, "%-12s %-12s %s\n", t.ID, t.Platform, t.URL)
	}
	return nil
}

func runPref(ctx context.Context, stdout io.Writer, client *requester.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: tubeprompt pref get KEY | pref set KEY VALUE")
	}
	switch args[0] {
	case "get":
		v, err := client.Preference(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, v)
		return nil
	case "set":
		if len(args) < 3 {
			return fmt.Errorf("usage: tubeprompt pref set KEY VALUE")
		}
		return client.SetPreference(ctx, args[1], strings.Join(args[2:], " "))
	default:
		return fmt.Errorf("unknown pref action: %s", args[0])
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: tubeprompt [-server URL] [-timeout 45s] [-v] <command>

Commands:
  acquire [-tab ID] [-start mm:ss -end mm:ss] [-lang CODE] [-deliver] [-chat-tab ID] [-with-description]
  tabs
  pref get KEY
  pref set KEY VALUE
`)
}
