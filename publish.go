package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vidpub/internal/config"
	"github.com/tonimelisma/vidpub/internal/metadata"
	"github.com/tonimelisma/vidpub/internal/upload"
)

const watchURLPrefix = "https://www.youtube.com/watch?v="

// errInvalidVideo marks a file that fails validation. main exits with
// exitInvalid for it.
var errInvalidVideo = errors.New("invalid video")

// metadataFlags are shared by validate and publish.
type metadataFlags struct {
	title       string
	description string
	tags        string
	category    string
	privacy     string
	playlist    string
	contentType string
}

func (f *metadataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "video title (default: \""+upload.DefaultTitle+"\")")
	cmd.Flags().StringVar(&f.description, "description", "", "video description")
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma-separated tags")
	cmd.Flags().StringVar(&f.category, "category", "", "category id (default from upload.default_category)")
	cmd.Flags().StringVar(&f.privacy, "privacy", "", "private, unlisted or public (default from upload.default_privacy)")
	cmd.Flags().StringVar(&f.playlist, "playlist", "", "playlist id to add the video to")
	cmd.Flags().StringVar(&f.contentType, "content-type", "", "MIME type (default: from the file extension)")
}

func (f *metadataFlags) request() upload.Request {
	return upload.Request{
		ContentType: f.contentType,
		Title:       f.title,
		Description: f.description,
		Tags:        upload.SplitTags(f.tags),
		CategoryID:  f.category,
		Privacy:     f.privacy,
		PlaylistID:  f.playlist,
	}
}

func newValidateCmd() *cobra.Command {
	var md metadataFlags

	cmd := &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a video against the upload rules without uploading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], &md)
		},
	}

	md.register(cmd)

	return cmd
}

// validateOutput is the JSON schema for `validate --json`.
type validateOutput struct {
	Valid       bool     `json:"valid"`
	FileName    string   `json:"filename"`
	Size        int64    `json:"size"`
	ContentType string   `json:"content_type"`
	Title       string   `json:"title"`
	Privacy     string   `json:"privacy"`
	CategoryID  string   `json:"category_id"`
	Tags        []string `json:"tags,omitempty"`
}

func runValidate(cmd *cobra.Command, path string, md *metadataFlags) error {
	cc := mustCLIContext(cmd.Context())

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	req := md.request()
	req.FileName = filepath.Base(path)
	req.Size = info.Size()

	valid, err := uploadRules(cc.Cfg).Validate(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidVideo, err)
	}

	out := validateOutput{
		Valid:       true,
		FileName:    valid.FileName,
		Size:        valid.Size,
		ContentType: valid.ContentType,
		Title:       valid.Title,
		Privacy:     valid.Privacy,
		CategoryID:  valid.CategoryID,
		Tags:        valid.Tags,
	}

	if cc.Flags.JSON {
		return printJSON(out)
	}

	fmt.Printf("%s is valid (%s, %s)\n", out.FileName, formatSize(out.Size), out.ContentType)
	fmt.Printf("  Title:    %s\n", out.Title)
	fmt.Printf("  Privacy:  %s\n", out.Privacy)
	fmt.Printf("  Category: %s\n", out.CategoryID)

	return nil
}

// uploadRules maps the upload config section to validation rules.
func uploadRules(cfg *config.Resolved) upload.Rules {
	return upload.Rules{
		MaxSize:         cfg.MaxFileSize,
		AllowedTypes:    cfg.Upload.AllowedTypes,
		DefaultPrivacy:  cfg.Upload.DefaultPrivacy,
		DefaultCategory: cfg.Upload.DefaultCategory,
	}
}

func newPublishCmd() *cobra.Command {
	var (
		md       metadataFlags
		generate bool
		in       metadata.Input
	)

	cmd := &cobra.Command{
		Use:   "publish <file>",
		Short: "Upload a video to YouTube",
		Long: `Upload a video with the resumable upload protocol.

Chunks are retried with exponential backoff; an expired access token is
refreshed once and the upload resumes from the offset the platform reports.
With --generate, blank title, description, tags and category are drafted by
the configured metadata service.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var gen *metadata.Input
			if generate {
				gen = &in
			}

			return runPublish(cmd, args[0], &md, gen)
		},
	}

	md.register(cmd)
	cmd.Flags().String("chunk-size", "", "chunk size, a multiple of 256KiB (e.g. 8MiB)")
	cmd.Flags().BoolVar(&generate, "generate", false, "draft missing metadata with the metadata service")
	cmd.Flags().StringVar(&in.Topic, "topic", "", "topic hint for --generate")
	cmd.Flags().StringVar(&in.Text, "notes", "", "free text describing the video, for --generate")
	cmd.Flags().StringVar(&in.Audience, "audience", "", "target audience for --generate")
	cmd.Flags().StringVar(&in.Style, "style", "", "writing style for --generate")

	return cmd
}

// publishOutput is the JSON schema for `publish --json`.
type publishOutput struct {
	UploadID      string `json:"upload_id"`
	VideoID       string `json:"video_id"`
	VideoURL      string `json:"video_url"`
	Title         string `json:"title"`
	Size          int64  `json:"size"`
	PlaylistAdded bool   `json:"playlist_added"`
}

func runPublish(cmd *cobra.Command, path string, md *metadataFlags, gen *metadata.Input) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	if err := requireClient(cc.Cfg); err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	req := md.request()
	req.Content = f
	req.Size = info.Size()
	req.FileName = filepath.Base(path)

	ctx := shutdownContext(cmd.Context(), logger)

	if gen != nil {
		if err := generateMetadata(ctx, cc, &req, *gen); err != nil {
			return err
		}
	}

	mgr, _ := newAuthManager(cc)

	var deps orchestratorDeps

	if req.PlaylistID != "" {
		api, err := newDataAPI(ctx, cc, mgr)
		if err != nil {
			return err
		}

		deps.playlists = api
	}

	history, err := openHistory(ctx, cc)
	if err != nil {
		// History is a convenience; publishing goes on without it.
		logger.Warn("publish history unavailable", slog.String("error", err.Error()))
	} else {
		defer history.Close()
		deps.recorder = history
	}

	o := newOrchestrator(cc, mgr, deps)

	valid, err := o.Validate(req)
	if err != nil {
		return fmt.Errorf("%w: %w", errInvalidVideo, err)
	}

	p := o.Start(ctx, req)
	logger.Debug("publish started", slog.String("upload_id", p.ID()))

	showProgress(os.Stderr, p.Events(), !cc.Flags.Quiet && isTerminal(os.Stderr))

	res, err := p.Wait()
	if err != nil {
		return describePublishError(p.ID(), err)
	}

	out := publishOutput{
		UploadID:      res.UploadID,
		VideoID:       res.VideoID,
		VideoURL:      watchURLPrefix + res.VideoID,
		Title:         valid.Title,
		Size:          valid.Size,
		PlaylistAdded: res.PlaylistAdded,
	}

	if cc.Flags.JSON {
		return printJSON(out)
	}

	cc.Statusf("Published %q (%s)\n", out.Title, formatSize(out.Size))
	fmt.Println(out.VideoURL)

	if req.PlaylistID != "" && !res.PlaylistAdded {
		cc.Statusf("Warning: the video could not be added to playlist %s\n", req.PlaylistID)
	}

	return nil
}

// generateMetadata drafts blank fields of req with the metadata service.
func generateMetadata(ctx context.Context, cc *CLIContext, req *upload.Request, in metadata.Input) error {
	gen := newGenerator(cc)
	if gen == nil {
		return fmt.Errorf("--generate: %w", metadata.ErrNotConfigured)
	}

	if in.Topic == "" && in.Text == "" {
		in.Topic = req.FileName
	}

	md, err := gen.Generate(ctx, in)
	if err != nil {
		return fmt.Errorf("generating metadata: %w", err)
	}

	metadata.Merge(req, md)
	cc.Logger.Info("metadata generated", slog.String("title", req.Title))

	return nil
}

// showProgress renders events as a single rewritten terminal line, or just
// drains them when interactive is false.
func showProgress(w io.Writer, events <-chan upload.ProgressEvent, interactive bool) {
	var last upload.ProgressEvent

	for ev := range events {
		last = ev

		if interactive {
			fmt.Fprintf(w, "\r%s", progressLine(ev))
		}
	}

	if interactive && last.Total > 0 {
		fmt.Fprintln(w)
	}
}

func progressLine(ev upload.ProgressEvent) string {
	return fmt.Sprintf("Uploading: %5.1f%%  %s / %s", ev.Percent, formatSize(ev.Sent), formatSize(ev.Total))
}

// describePublishError adds the resume offset to a failed publish.
func describePublishError(id string, err error) error {
	var perr *upload.PublishError
	if errors.As(err, &perr) && perr.Offset > 0 {
		return fmt.Errorf("publish %s failed after %s: %w", id, formatSize(perr.Offset), err)
	}

	return fmt.Errorf("publish %s failed: %w", id, err)
}
