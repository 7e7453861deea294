package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ParameterType is the SSM storage type of a parameter.
type ParameterType int

const (
	// ParamSecureString is encrypted at rest.
	ParamSecureString ParameterType = iota
	// ParamString is plaintext.
	ParamString
)

// InputSource describes how a step's value is obtained.
type InputSource int

const (
	// SourcePrompt asks the operator interactively.
	SourcePrompt InputSource = iota
	// SourceProvided takes the value from a flag, prompting only when the
	// flag was not given.
	SourceProvided
)

// BootstrapStep is one parameter in the inventory.
type BootstrapStep struct {
	HumanLabel string

	// SSMCategoryKey is the path below the prefix, e.g. "database/url".
	SSMCategoryKey string

	// EnvVar is the variable the reducer reads. Deployments point
	// EnvVar+"_SSM_PARAM" at the parameter.
	EnvVar string

	ParamType ParameterType
	Source    InputSource
	Prompt    string

	// ValidateFn, when set, must accept the value before it is written.
	ValidateFn func(ctx context.Context, input string) ValidationResult

	// IsSecret masks terminal input and keeps the value out of output.
	IsSecret bool

	// Optional steps are skipped on empty input without confirmation.
	Optional bool

	Phase string
}

// maxRetries is the number of invalid entries allowed per step.
const maxRetries = 5

var errSkipped = errors.New("parameter skipped by operator")

// BuildInventory returns the ordered parameter inventory.
func BuildInventory(v *Validator) []BootstrapStep {
	return []BootstrapStep{
		{
			HumanLabel:     "Database URL",
			SSMCategoryKey: "database/url",
			EnvVar:         "DATABASE_URL",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt: `The database must already hold tracked_reservoirs and the reduced tables.
   Paste the full postgres://... connection string:`,
			ValidateFn: v.ValidateDatabaseURL,
			IsSecret:   true,
			Phase:      "Storage",
		},
		{
			HumanLabel:     "Feed manifest (TARGET_SPEC)",
			SSMCategoryKey: "config/target_spec",
			EnvVar:         "TARGET_SPEC",
			ParamType:      ParamString,
			Source:         SourceProvided,
			Prompt:         `Paste the TARGET_SPEC JSON on one line (or rerun with --target-spec=FILE):`,
			ValidateFn:     v.ValidateTargetSpec,
			Phase:          "Feeds",
		},
		{
			HumanLabel:     "Requeue queue URL (optional)",
			SSMCategoryKey: "queue/requeue_url",
			EnvVar:         "REQUEUE_QUEUE_URL",
			ParamType:      ParamString,
			Source:         SourcePrompt,
			Prompt:         `Paste the SQS queue URL that receives next-day runs (or press Enter to skip):`,
			ValidateFn:     v.ValidateQueueURL,
			Optional:       true,
			Phase:          "Scheduling",
		},
		{
			HumanLabel:     "Slack webhook URL (optional)",
			SSMCategoryKey: "notify/slack_webhook_url",
			EnvVar:         "SLACKBOT_WEBHOOK_URL",
			ParamType:      ParamSecureString,
			Source:         SourcePrompt,
			Prompt:         `Paste the Slack incoming webhook URL (or press Enter to skip):`,
			ValidateFn:     v.ValidateSlackWebhook,
			IsSecret:       true,
			Optional:       true,
			Phase:          "Notifications",
		},
	}
}

// BootstrapRunner walks the inventory. Tests inject the parameter store,
// stdin and the inventory.
type BootstrapRunner struct {
	Params    *ParamStore
	Validator *Validator
	Stdin     io.Reader
	Stderr    io.Writer

	// TargetSpec is the manifest read from --target-spec.
	TargetSpec string

	// SkipOptional skips every optional step without prompting.
	SkipOptional bool

	// scanner is shared for the whole session; a second scanner on the same
	// reader would lose buffered input.
	scanner *bufio.Scanner

	inventoryOverride []BootstrapStep
}

// NewBootstrapRunner creates a BootstrapRunner with production dependencies.
func NewBootstrapRunner(bctx *BootstrapContext) *BootstrapRunner {
	return &BootstrapRunner{
		Params:    NewParamStore(bctx),
		Validator: NewValidator(),
		Stdin:     os.Stdin,
		Stderr:    os.Stderr,
	}
}

func (r *BootstrapRunner) inventory() []BootstrapStep {
	if r.inventoryOverride != nil {
		return r.inventoryOverride
	}
	return BuildInventory(r.Validator)
}

// Run processes every step in order and prints a summary.
func (r *BootstrapRunner) Run(ctx context.Context) error {
	inventory := r.inventory()

	var currentPhase string
	var results []stepResult
	for i, step := range inventory {
		if step.Phase != currentPhase {
			currentPhase = step.Phase
			r.printPhaseHeader(currentPhase)
		}
		fmt.Fprintf(r.Stderr, "\n[%d/%d] %s\n", i+1, len(inventory), step.HumanLabel)

		result, err := r.processStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %q failed: %w", step.HumanLabel, err)
		}
		results = append(results, result)
	}

	r.printSummary(results)
	return nil
}

// Step outcomes.
const (
	actionWritten     = "written"
	actionOverwritten = "overwritten"
	actionKept        = "kept"
	actionSkipped     = "skipped"
)

type stepResult struct {
	Label  string
	EnvVar string
	Action string
	Path   string
}

func (r *BootstrapRunner) processStep(ctx context.Context, step BootstrapStep) (stepResult, error) {
	path := r.Params.Path(step)
	result := stepResult{Label: step.HumanLabel, EnvVar: step.EnvVar, Path: path}

	if step.Optional && r.SkipOptional {
		fmt.Fprintf(r.Stderr, "  Skipped (optional)\n")
		result.Action = actionSkipped
		return result, nil
	}

	exists, err := r.Params.Exists(ctx, step)
	if err != nil {
		return result, err
	}
	if exists {
		fmt.Fprintf(r.Stderr, "  Parameter already exists: %s\n", path)
		choice, err := r.promptChoice("  [K]eep or [O]verwrite? ", map[string]string{
			"k": actionKept, "keep": actionKept, "o": actionOverwritten, "overwrite": actionOverwritten,
		})
		if err != nil {
			return result, fmt.Errorf("reading keep/overwrite choice: %w", err)
		}
		if choice == actionKept {
			fmt.Fprintf(r.Stderr, "  Kept.\n")
			result.Action = actionKept
			return result, nil
		}
	}

	value, err := r.obtainValue(ctx, step)
	if errors.Is(err, errSkipped) {
		fmt.Fprintf(r.Stderr, "  Skipped.\n")
		result.Action = actionSkipped
		return result, nil
	}
	if err != nil {
		return result, err
	}

	if err := r.Params.Store(ctx, step, value, exists); err != nil {
		return result, err
	}

	result.Action = actionWritten
	if exists {
		result.Action = actionOverwritten
	}
	fmt.Fprintf(r.Stderr, "  Stored: %s\n", path)
	return result, nil
}

func (r *BootstrapRunner) obtainValue(ctx context.Context, step BootstrapStep) (string, error) {
	if step.Source == SourceProvided && r.TargetSpec != "" {
		value := strings.TrimSpace(r.TargetSpec)
		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, value)
			if !vr.Valid {
				return "", fmt.Errorf("--target-spec is invalid: %s", vr.Message)
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}
		return value, nil
	}
	return r.promptAndValidate(ctx, step)
}

// promptAndValidate prompts until the value validates, the operator skips
// or maxRetries invalid entries have been made.
func (r *BootstrapRunner) promptAndValidate(ctx context.Context, step BootstrapStep) (string, error) {
	fmt.Fprintf(r.Stderr, "\n  %s\n\n", step.Prompt)

	for attempt := 1; attempt <= maxRetries; {
		var (
			input string
			err   error
		)
		if step.IsSecret {
			input, err = r.readSecretInput("  > ")
		} else {
			input, err = r.readInput("  > ")
		}
		if err != nil {
			return "", fmt.Errorf("reading input for %s: %w", step.HumanLabel, err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			if step.Optional {
				return "", errSkipped
			}
			choice, err := r.promptChoice("  No input received. [S]kip this parameter or [R]etry? ", map[string]string{
				"s": actionSkipped, "skip": actionSkipped, "r": "retry", "retry": "retry",
			})
			if err != nil {
				return "", fmt.Errorf("reading skip/retry choice for %s: %w", step.HumanLabel, err)
			}
			if choice == actionSkipped {
				return "", errSkipped
			}
			continue
		}

		if step.IsSecret {
			fmt.Fprintf(r.Stderr, "  Received %d chars.\n", len(input))
		}

		if step.ValidateFn != nil {
			vr := step.ValidateFn(ctx, input)
			if !vr.Valid {
				fmt.Fprintf(r.Stderr, "  Validation failed: %s\n", vr.Message)
				if attempt < maxRetries {
					fmt.Fprintf(r.Stderr, "  Try again (%d/%d).\n", attempt, maxRetries)
				}
				attempt++
				continue
			}
			fmt.Fprintf(r.Stderr, "  Validated: %s\n", vr.Message)
		}
		return input, nil
	}

	return "", fmt.Errorf("maximum retries (%d) exceeded for %s", maxRetries, step.HumanLabel)
}

func (r *BootstrapRunner) scanLine() (string, error) {
	if r.scanner == nil {
		r.scanner = bufio.NewScanner(r.Stdin)
		r.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	}
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *BootstrapRunner) readInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)
	return r.scanLine()
}

// readSecretInput disables echo when stdin is a terminal and falls back to
// line reading otherwise.
func (r *BootstrapRunner) readSecretInput(prompt string) (string, error) {
	fmt.Fprint(r.Stderr, prompt)

	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(r.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading secret input: %w", err)
		}
		return string(password), nil
	}
	return r.scanLine()
}

// promptChoice repeats prompt until the answer is one of choices' keys and
// returns the mapped value.
func (r *BootstrapRunner) promptChoice(prompt string, choices map[string]string) (string, error) {
	for {
		line, err := r.readInput(prompt)
		if err != nil {
			return "", err
		}
		if choice, ok := choices[strings.TrimSpace(strings.ToLower(line))]; ok {
			return choice, nil
		}
		fmt.Fprintf(r.Stderr, "  Unrecognized answer %q.\n", strings.TrimSpace(line))
	}
}

func (r *BootstrapRunner) printPhaseHeader(phase string) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Phase: %s\n", phase)
	fmt.Fprintf(r.Stderr, "============================================================\n")
}

// printSummary lists each outcome and the _SSM_PARAM pointers to set on the
// deployed function.
func (r *BootstrapRunner) printSummary(results []stepResult) {
	fmt.Fprintf(r.Stderr, "\n============================================================\n")
	fmt.Fprintf(r.Stderr, "  Bootstrap Summary\n")
	fmt.Fprintf(r.Stderr, "============================================================\n")

	counts := make(map[string]int, 4)
	var pointers []string
	for _, res := range results {
		counts[res.Action]++
		fmt.Fprintf(r.Stderr, "  %-14s %s\n", "["+strings.ToUpper(res.Action)+"]", res.Label)
		if res.Action != actionSkipped {
			pointers = append(pointers, fmt.Sprintf("%s_SSM_PARAM=%s", res.EnvVar, res.Path))
		}
	}

	fmt.Fprintf(r.Stderr, "------------------------------------------------------------\n")
	fmt.Fprintf(r.Stderr, "  Total: %d parameters\n", len(results))
	fmt.Fprintf(r.Stderr, "  Written: %d | Overwritten: %d | Kept: %d | Skipped: %d\n",
		counts[actionWritten], counts[actionOverwritten], counts[actionKept], counts[actionSkipped])
	fmt.Fprintf(r.Stderr, "============================================================\n")
	if len(pointers) > 0 {
		fmt.Fprintf(r.Stderr, "\n  Set these on the reducer function:\n")
		for _, p := range pointers {
			fmt.Fprintf(r.Stderr, "    %s\n", p)
		}
	}
	fmt.Fprintln(r.Stderr)
}
