// Command go-client drives a running gateway from the command line.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-gateway/internal/apiclient"
	"github.com/book-expert/tts-gateway/internal/synthesis"
)

// Flag descriptions.
const (
	flagURLDesc         = "Gateway base URL"
	flagPrefixDesc      = "API route prefix"
	flagKeyDesc         = "API key or bearer token (defaults to $TTS_API_KEY)"
	flagTimeoutDesc     = "Request timeout"
	flagVerboseDesc     = "Enable verbose logging"
	flagHealthDesc      = "Check gateway health and exit"
	flagTextDesc        = "Text to convert to speech"
	flagVoiceDesc       = "Cloned voice id to speak with"
	flagOutputDesc      = "Save the generated audio to this path"
	flagListDesc        = "List generated audio files"
	flagLimitDesc       = "Page size for -list"
	flagOffsetDesc      = "Page offset for -list"
	flagCloneDesc       = "Reference clip to clone a voice from"
	flagNameDesc        = "Voice name for -clone"
	flagTranscriptDesc  = "Transcript of the reference clip for -clone"
	flagDescriptionDesc = "Optional voice description for -clone"
	flagVoicesDesc      = "List registered voices"
	flagTokenDesc       = "Exchange the API key for a signed token"
	flagSubjectDesc     = "Token subject for -token"
)

// Flag names.
const (
	flagURL         = "url"
	flagPrefix      = "prefix"
	flagKey         = "key"
	flagTimeout     = "timeout"
	flagVerbose     = "verbose"
	flagHealth      = "health"
	flagText        = "text"
	flagVoice       = "voice"
	flagOutput      = "output"
	flagList        = "list"
	flagLimit       = "limit"
	flagOffset      = "offset"
	flagClone       = "clone"
	flagName        = "name"
	flagTranscript  = "transcript"
	flagDescription = "description"
	flagVoices      = "voices"
	flagToken       = "token"
	flagSubject     = "subject"
)

// Messages.
const (
	errFailedToInitLogger = "failed to initialize logger: %w"
	errExactlyOneMode     = "exactly one of -health, -text, -list, -clone, -voices, -token must be given"
	errCloneNeedsFields   = "-clone requires -name and -transcript"
	msgHealthy            = "%s %s is %s (engine ready: %t)\n"
	msgGenerated          = "Generated: %s (%s)\n"
	msgSaved              = "Saved %d bytes to %s\n"
	msgListHeader         = "%d of %d files:\n"
	msgListItem           = "  %s  %d bytes  %s\n"
	msgCloned             = "%s (voice id %s)\n"
	msgVoiceItem          = "  %s  %s  %.1fs\n"
	msgToken              = "%s\n(expires in %ds)\n"
)

const (
	envAPIKey          = "TTS_API_KEY"
	logFileNameDefault = "tts-client.log"
	logFileNameVerbose = "tts-client-verbose.log"
	defaultTimeout     = 10 * time.Minute
)

var errUsage = errors.New(errExactlyOneMode)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url         string
	prefix      string
	key         string
	timeout     time.Duration
	verbose     bool
	health      bool
	text        string
	voice       string
	output      string
	list        bool
	limit       int
	offset      int
	clone       string
	name        string
	transcript  string
	description string
	voices      bool
	token       bool
	subject     string
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

// run is the application entry point, returning an error on failure.
func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	logFileName := logFileNameDefault
	if flags.verbose {
		logFileName = logFileNameVerbose
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf(errFailedToInitLogger, err)
	}
	defer clientLog.Close()

	client := apiclient.New(flags.url, flags.prefix, flags.key, flags.timeout)
	clientLog.Info("Client targeting %s%s", flags.url, flags.prefix)

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	err = handleExecution(ctx, client, flags, stdout)
	if err != nil {
		clientLog.Error("Command failed: %v", err)

		return err
	}

	return nil
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	fs := flag.NewFlagSet("go-client", flag.ContinueOnError)
	fs.StringVar(&flags.url, flagURL, apiclient.DefaultBaseURL, flagURLDesc)
	fs.StringVar(&flags.prefix, flagPrefix, apiclient.DefaultAPIPrefix, flagPrefixDesc)
	fs.StringVar(&flags.key, flagKey, os.Getenv(envAPIKey), flagKeyDesc)
	fs.DurationVar(&flags.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)
	fs.BoolVar(&flags.verbose, flagVerbose, false, flagVerboseDesc)
	fs.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)
	fs.StringVar(&flags.text, flagText, "", flagTextDesc)
	fs.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	fs.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	fs.BoolVar(&flags.list, flagList, false, flagListDesc)
	fs.IntVar(&flags.limit, flagLimit, 50, flagLimitDesc)
	fs.IntVar(&flags.offset, flagOffset, 0, flagOffsetDesc)
	fs.StringVar(&flags.clone, flagClone, "", flagCloneDesc)
	fs.StringVar(&flags.name, flagName, "", flagNameDesc)
	fs.StringVar(&flags.transcript, flagTranscript, "", flagTranscriptDesc)
	fs.StringVar(&flags.description, flagDescription, "", flagDescriptionDesc)
	fs.BoolVar(&flags.voices, flagVoices, false, flagVoicesDesc)
	fs.BoolVar(&flags.token, flagToken, false, flagTokenDesc)
	fs.StringVar(&flags.subject, flagSubject, "", flagSubjectDesc)

	err := fs.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	return flags, validateFlags(flags)
}

func validateFlags(flags appFlags) error {
	modes := 0

	for _, set := range []bool{flags.health, flags.text != "", flags.list, flags.clone != "", flags.voices, flags.token} {
		if set {
			modes++
		}
	}

	if modes != 1 {
		return errUsage
	}

	if flags.clone != "" && (flags.name == "" || flags.transcript == "") {
		return errors.New(errCloneNeedsFields)
	}

	return nil
}

// handleExecution dispatches to the selected command.
func handleExecution(ctx context.Context, client *apiclient.Client, flags appFlags, stdout io.Writer) error {
	switch {
	case flags.health:
		return handleHealthCheck(ctx, client, stdout)
	case flags.text != "":
		return processText(ctx, client, flags, stdout)
	case flags.list:
		return listFiles(ctx, client, flags.limit, flags.offset, stdout)
	case flags.clone != "":
		return cloneVoice(ctx, client, flags, stdout)
	case flags.voices:
		return listVoices(ctx, client, stdout)
	default:
		return issueToken(ctx, client, flags.subject, stdout)
	}
}

func handleHealthCheck(ctx context.Context, client *apiclient.Client, stdout io.Writer) error {
	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Fprintf(stdout, msgHealthy, health.Service, health.Version, health.Status, health.EngineReady)

	return nil
}

func processText(ctx context.Context, client *apiclient.Client, flags appFlags, stdout io.Writer) error {
	result, err := client.Generate(ctx, synthesis.Request{
		Text:          flags.text,
		VoiceID:       flags.voice,
		Temperature:   nil,
		GuidanceScale: nil,
		TopP:          nil,
		TopK:          nil,
		Seed:          nil,
	})
	if err != nil {
		return fmt.Errorf("failed to generate speech: %w", err)
	}

	fmt.Fprintf(stdout, msgGenerated, result.Filename, result.AudioURL)

	if flags.output == "" {
		return nil
	}

	return saveAudio(ctx, client, result.Filename, flags.output, stdout)
}

func saveAudio(ctx context.Context, client *apiclient.Client, filename, outputPath string, stdout io.Writer) (err error) {
	err = os.MkdirAll(filepath.Dir(outputPath), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}

	defer func() {
		closeErr := out.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("failed to close %s: %w", outputPath, closeErr)
		}
	}()

	n, err := client.Download(ctx, filename, out)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", filename, err)
	}

	fmt.Fprintf(stdout, msgSaved, n, outputPath)

	return nil
}

func listFiles(ctx context.Context, client *apiclient.Client, limit, offset int, stdout io.Writer) error {
	list, err := client.List(ctx, limit, offset)
	if err != nil {
		return fmt.Errorf("failed to list files: %w", err)
	}

	fmt.Fprintf(stdout, msgListHeader, len(list.Files), list.Total)

	for _, item := range list.Files {
		fmt.Fprintf(stdout, msgListItem, item.Filename, item.Size, item.Modified.Format(time.RFC3339))
	}

	return nil
}

func cloneVoice(ctx context.Context, client *apiclient.Client, flags appFlags, stdout io.Writer) error {
	resp, err := client.CloneVoice(ctx, flags.clone, flags.name, flags.transcript, flags.description)
	if err != nil {
		return fmt.Errorf("failed to clone voice: %w", err)
	}

	fmt.Fprintf(stdout, msgCloned, resp.Message, resp.VoiceID)

	return nil
}

func listVoices(ctx context.Context, client *apiclient.Client, stdout io.Writer) error {
	resp, err := client.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}

	fmt.Fprintf(stdout, "%d voices:\n", resp.Total)

	for _, v := range resp.Voices {
		fmt.Fprintf(stdout, msgVoiceItem, v.ID, v.Name, v.Duration)
	}

	return nil
}

func issueToken(ctx context.Context, client *apiclient.Client, subject string, stdout io.Writer) error {
	resp, err := client.IssueToken(ctx, subject)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	fmt.Fprintf(stdout, msgToken, resp.AccessToken, resp.ExpiresIn)

	return nil
}
