package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/maauso/img2video/internal/bootstrap"
	"github.com/maauso/img2video/internal/config"
	"github.com/maauso/img2video/internal/genapi"
	"github.com/maauso/img2video/internal/imagebuf"
	"github.com/maauso/img2video/internal/job"
	"github.com/maauso/img2video/internal/poller"
)

// Errors that map to a non-zero exit status.
var (
	errJobFailed           = errors.New("generation failed")
	errInsufficientCredits = errors.New("insufficient credits")
	errInterrupted         = errors.New("interrupted")
	errTooManyImages       = errors.New("too many images")
)

// exitCode maps a command error to the process exit status: 2 for input the
// user can correct, 1 for anything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case poller.IsValidationError(err),
		errors.Is(err, job.ErrUnknownModel),
		errors.Is(err, errTooManyImages):
		return 2
	default:
		return 1
	}
}

type rootOptions struct {
	envFile string
}

type generateOptions struct {
	images     []string
	prompt     string
	model      string
	duration   int
	aspect     string
	resolution string
	noAudio    bool
	bgm        bool
	seed       int64
	archive    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "img2video",
		Short: "Turn reference images and a prompt into a generated video",
		Long: `img2video submits up to six reference images and a text prompt to the
video generation service, polls the job until it finishes, and prints the
resulting media URL.

Configuration is read from the environment (and a .env file):
GENAPI_PROJECT_ID, GENAPI_PRODUCT_ID and USER_ID are required.

Examples:
  img2video generate -i cat.png -p "the cat starts dancing"
  img2video generate -i a.jpg -i b.jpg -p "morphing between scenes" --duration 8 --resolution 720p --archive
  img2video status 1234567`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Dotenv file to load (default .env)")

	cmd.AddCommand(newGenerateCmd(opts), newStatusCmd(opts))
	return cmd
}

func newGenerateCmd(root *rootOptions) *cobra.Command {
	opts := &generateOptions{}
	defaults := job.Defaults()

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a job and wait for the generated media",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := loadDependencies(root)
			if err != nil {
				return err
			}
			return runGenerate(cmd.Context(), cmd.OutOrStdout(), deps, opts)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&opts.images, "image", "i", nil, "Image file path or data URL (repeatable, in slot order)")
	f.StringVarP(&opts.prompt, "prompt", "p", "", "Text prompt describing the video")
	f.StringVarP(&opts.model, "model", "m", defaults.Model.String(), "Model tier: premium, standard, basic, trial (or 0-3)")
	f.IntVar(&opts.duration, "duration", defaults.DurationSeconds, "Clip length in seconds (4, 8 or 10)")
	f.StringVar(&opts.aspect, "aspect-ratio", defaults.AspectRatio, "Aspect ratio (16:9, 9:16, 4:3, 3:4, 1:1)")
	f.StringVar(&opts.resolution, "resolution", defaults.Resolution, "Resolution (360p, 720p, 1080p)")
	f.BoolVar(&opts.noAudio, "no-audio", false, "Disable generated audio")
	f.BoolVar(&opts.bgm, "bgm", false, "Add background music")
	f.Int64Var(&opts.seed, "seed", 0, "Random seed (0 lets the service choose)")
	f.BoolVar(&opts.archive, "archive", false, "Copy the finished media to the archive storage")

	return cmd
}

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Look up the current state of a job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := loadDependencies(root)
			if err != nil {
				return err
			}
			return runStatus(cmd.Context(), cmd.OutOrStdout(), deps, args[0])
		},
	}
}

func loadDependencies(root *rootOptions) (*bootstrap.Dependencies, error) {
	var files []string
	if root.envFile != "" {
		files = append(files, root.envFile)
	}

	cfg, err := config.Load(files...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)
	logger.Debug("configuration loaded", slog.String("config", cfg.String()))

	return bootstrap.NewDependencies(cfg, logger)
}

// outcome is the terminal result delivered by the orchestrator.
type outcome struct {
	state    poller.State
	mediaURL string
	balance  *float64
}

func runGenerate(ctx context.Context, out io.Writer, deps *bootstrap.Dependencies, opts *generateOptions) error {
	buf := deps.NewImageBuffer()
	if err := loadImages(buf, opts.images); err != nil {
		return err
	}
	for i := range buf.Capacity() {
		slot, err := buf.Slot(i)
		if err != nil || !slot.Occupied() {
			continue
		}
		deps.Logger.Debug("image loaded",
			slog.Int("slot", slot.Index),
			slog.String("mime", slot.MIME),
			slog.Int("bytes", len(slot.Data)),
		)
	}

	params, err := opts.parameters()
	if err != nil {
		return err
	}

	results := make(chan outcome, 1)
	sink := poller.SinkFuncs{
		Succeeded: func(mediaURL string, balance *float64) {
			results <- outcome{state: poller.StateSucceeded, mediaURL: mediaURL, balance: balance}
		},
		Failed: func() {
			results <- outcome{state: poller.StateFailed}
		},
		InsufficientCredits: func() {
			results <- outcome{state: poller.StateInsufficientCredits}
		},
	}

	orch := deps.NewOrchestrator(sink)
	if err := orch.Submit(ctx, buf.Images(), params); err != nil {
		return err
	}

	var res outcome
	select {
	case res = <-results:
	case <-ctx.Done():
		orch.Stop()
		orch.Wait()
		return errInterrupted
	}
	orch.Wait()

	session, _ := orch.Session()
	switch res.state {
	case poller.StateInsufficientCredits:
		return errInsufficientCredits
	case poller.StateFailed:
		if session.JobID != "" {
			return fmt.Errorf("%w: job %s", errJobFailed, session.JobID)
		}
		return errJobFailed
	}

	kind := "image"
	if genapi.IsVideoURL(res.mediaURL) {
		kind = "video"
	}
	fmt.Fprintf(out, "job: %s\n", session.JobID)
	fmt.Fprintf(out, "%s: %s\n", kind, res.mediaURL)
	if res.balance != nil {
		fmt.Fprintf(out, "balance: %g\n", *res.balance)
	}

	if opts.archive {
		location, err := deps.Archiver.Archive(ctx, res.mediaURL)
		if err != nil {
			return fmt.Errorf("archive media: %w", err)
		}
		fmt.Fprintf(out, "archived: %s\n", location)
	}
	return nil
}

func runStatus(ctx context.Context, out io.Writer, deps *bootstrap.Dependencies, jobID string) error {
	report, err := deps.Client.FetchStatus(ctx, genapi.StatusRequest{JobID: jobID, UserID: deps.Identity.UserID})
	if err != nil {
		return fmt.Errorf("fetch status: %w", err)
	}

	fmt.Fprintf(out, "job: %s\nstate: %s\n", jobID, report.State)
	if report.MediaURL != "" {
		fmt.Fprintf(out, "media: %s\n", report.MediaURL)
	}
	if report.UpdatedBalance != nil {
		fmt.Fprintf(out, "balance: %g\n", *report.UpdatedBalance)
	}
	if !report.State.IsTerminal() {
		fmt.Fprintln(out, "the job is still running; check again later")
	}
	return nil
}

// loadImages fills slots 0..n-1 from file paths or data URLs.
func loadImages(buf *imagebuf.Buffer, sources []string) error {
	if len(sources) > buf.Capacity() {
		return fmt.Errorf("%w: %d given, %d slots available", errTooManyImages, len(sources), buf.Capacity())
	}
	for i, src := range sources {
		var err error
		if strings.HasPrefix(src, "data:") {
			err = buf.SetDataURL(i, src)
		} else {
			err = buf.SetFile(i, src)
		}
		if err != nil {
			return fmt.Errorf("load image %d: %w", i+1, err)
		}
	}
	return nil
}

func (o *generateOptions) parameters() (job.Parameters, error) {
	model, err := job.ParseModel(o.model)
	if err != nil {
		return job.Parameters{}, err
	}
	return job.Parameters{
		Prompt:          o.prompt,
		Model:           model,
		DurationSeconds: o.duration,
		AspectRatio:     o.aspect,
		Resolution:      o.resolution,
		MuteAudio:       o.noAudio,
		BackgroundMusic: o.bgm,
		Seed:            o.seed,
	}, nil
}
