package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joules/server/audio"
	"github.com/joules/server/console"
	"github.com/joules/server/logger"
	"github.com/joules/server/meeting"
	"github.com/joules/server/session"
	"github.com/spf13/cobra"
)

var errProcessingFailed = errors.New("processing failed; nothing saved")

// cli bundles what a terminal command needs once config is loaded.
type cli struct {
	a      *app
	out    *console.Formatter
	prompt *console.Prompter
	store  *openedStore
	done   func()
}

func (a *app) openCLI(ctx context.Context, in io.Reader, out io.Writer) (*cli, error) {
	closeLog, err := logger.Init(logger.Config{DataDir: a.cfg.DataDir})
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		closeLog()
		return nil, err
	}
	return &cli{
		a:      a,
		out:    console.NewFormatter(out),
		prompt: console.NewPrompter(in, out),
		store:  store,
		done: func() {
			store.close()
			closeLog()
		},
	}, nil
}

func (c *cli) newController(device audio.Device) *session.Controller {
	return session.NewController(c.a.newBackend(), c.store, device,
		session.WithChangeListener(func(st session.State) {
			c.out.Progress(st.Phase)
		}),
	)
}

// finish prints the results of a processed session and saves it under
// name, asking for one when name is empty.
func (c *cli) finish(ctx context.Context, ctrl *session.Controller, name string) error {
	st, err := ctrl.Process(ctx)
	if err != nil {
		return err
	}
	c.out.Results(st)

	if !st.CanSave {
		return errProcessingFailed
	}

	if name == "" {
		name, err = c.prompt.Ask("\nMeeting name", st.DefaultName)
		if errors.Is(err, console.ErrCancelled) {
			c.out.Info("Not saved.")
			return nil
		}
		if err != nil {
			return err
		}
	}

	m, err := ctrl.CommitToStore(ctx, name)
	if err != nil {
		return err
	}
	c.out.Success(fmt.Sprintf("Saved %q (%s)", m.Name, m.ID))
	return nil
}

func newProcessCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "process FILE",
		Short: "Transcribe and summarize an audio file, then save it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading audio file: %w", err)
			}
			if len(data) == 0 {
				return fmt.Errorf("%s is empty", args[0])
			}

			c, err := a.openCLI(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.done()

			ctrl := c.newController(audio.Exclusive(a.newFFmpeg()))
			defer ctrl.Close()

			src := audio.FromFile(filepath.Base(args[0]), data)
			ctrl.SelectFile(&src)

			return c.finish(ctx, ctrl, name)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "meeting name (prompted when omitted)")

	return cmd
}

func newRecordCmd(a *app) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record from the microphone, then transcribe, summarize and save",
		Long:  "Record audio with ffmpeg until Enter is pressed. Ctrl+C discards the recording.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCLI(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.done()

			ctrl := c.newController(audio.Exclusive(a.newFFmpeg()))
			defer ctrl.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if _, err := ctrl.StartRecording(sigCtx); err != nil {
				return err
			}
			started := time.Now()
			c.out.RecordingStarted()

			entered := make(chan struct{})
			go func() {
				c.prompt.Wait()
				close(entered)
			}()

			select {
			case <-sigCtx.Done():
				c.out.Warning("Recording discarded.")
				return nil
			case <-entered:
			}

			if _, err := ctrl.StopRecording(); err != nil {
				return err
			}
			c.out.RecordingStopped(time.Since(started))

			return c.finish(cmd.Context(), ctrl, name)
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "meeting name (prompted when omitted)")

	return cmd
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved meetings, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCLI(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.done()

			meetings, err := c.store.List()
			if err != nil {
				return err
			}
			c.out.MeetingList(meetings)
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show a saved meeting's transcript and summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCLI(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.done()

			m, err := findMeeting(c.store, args[0])
			if err != nil {
				return err
			}
			c.out.Meeting(m)
			return nil
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a saved meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openCLI(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.done()

			m, err := findMeeting(c.store, args[0])
			if err != nil {
				return err
			}

			if !yes {
				if err := requireTerminal(cmd.InOrStdin()); err != nil {
					return err
				}
				ok, err := c.prompt.Confirm(fmt.Sprintf("Delete meeting %q?", m.Name))
				if err != nil && !errors.Is(err, console.ErrCancelled) {
					return err
				}
				if !ok {
					c.out.Info("Nothing deleted.")
					return nil
				}
			}

			if _, err := c.store.Delete(ctx, m.ID); err != nil {
				return err
			}
			c.out.Success(fmt.Sprintf("Deleted %q", m.Name))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")

	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all saved meetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := a.openCLI(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer c.done()

			meetings, err := c.store.List()
			if err != nil {
				return err
			}
			if len(meetings) == 0 {
				c.out.Info("Meeting history is already empty.")
				return nil
			}

			if !yes {
				if err := requireTerminal(cmd.InOrStdin()); err != nil {
					return err
				}
				ok, err := c.prompt.Confirm(fmt.Sprintf("Delete all %d meetings? This cannot be undone.", len(meetings)))
				if err != nil && !errors.Is(err, console.ErrCancelled) {
					return err
				}
				if !ok {
					c.out.Info("Nothing deleted.")
					return nil
				}
			}

			if err := c.store.Clear(ctx); err != nil {
				return err
			}
			c.out.Success(fmt.Sprintf("Cleared %d meetings", len(meetings)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")

	return cmd
}

// requireTerminal refuses to confirm destructive commands from a pipe or
// file; those must pass --yes.
func requireTerminal(in io.Reader) error {
	if f, ok := in.(*os.File); ok && !console.IsInteractive(f) {
		return errors.New("stdin is not a terminal; pass --yes to confirm")
	}
	return nil
}

// findMeeting resolves a full id or a unique id prefix.
func findMeeting(store meeting.Store, ref string) (meeting.Meeting, error) {
	if m, found, err := store.Get(ref); err != nil {
		return meeting.Meeting{}, err
	} else if found {
		return m, nil
	}

	meetings, err := store.List()
	if err != nil {
		return meeting.Meeting{}, err
	}
	var matches []meeting.Meeting
	for _, m := range meetings {
		if strings.HasPrefix(m.ID, ref) {
			matches = append(matches, m)
		}
	}
	switch len(matches) {
	case 0:
		return meeting.Meeting{}, fmt.Errorf("%w: %s", meeting.ErrMeetingNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return meeting.Meeting{}, fmt.Errorf("id prefix %q matches %d meetings", ref, len(matches))
	}
}
