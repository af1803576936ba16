package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kstaniek/go-rfid-alarm/internal/logging"
	"github.com/kstaniek/go-rfid-alarm/internal/metrics"
)

// Alert labels raised by the controller.
const (
	LabelIntruder      = "Alarm"
	LabelExceededTries = "Exceeded number of tries"
)

// DefaultBody is the mail text when no body file is configured.
const DefaultBody = "The alarm was triggered. Photos from the cameras are attached."

const defaultCaptureTimeout = 15 * time.Second

// Camera captures a still with an external command. Command is an argv in
// which {device} and {output} are substituted, e.g.
//
//	streamer -c {device} -s 640x480 -o {output}
type Camera struct {
	Name    string
	Device  string
	Command []string
}

// Runner executes an argv. The default runs it with os/exec.
type Runner func(ctx context.Context, argv []string) error

// ExecRunner runs argv and folds its output into the error.
func ExecRunner(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Alerter turns an alert into photos plus a mail.
type Alerter struct {
	Cameras []Camera
	// PreCapture runs before the cameras, e.g. a V4L2 driver reload.
	PreCapture []string
	// OutputDir receives the captured stills.
	OutputDir string
	Mailer    Mailer
	Body      string
	// Lamp lights the scene while the cameras capture. Optional.
	Lamp           func(on bool) error
	Run            Runner
	CaptureTimeout time.Duration
	Log            *slog.Logger
}

// Send captures every camera and mails the result. Capture problems only
// drop the affected attachment; the mail is still sent.
func (a *Alerter) Send(ctx context.Context, al Alert) error {
	l := logging.Or(a.Log)
	photos := a.capture(ctx, l)
	body := a.Body
	if body == "" {
		body = DefaultBody
	}
	if !al.Time.IsZero() {
		body = fmt.Sprintf("%s\n\n%s: %s\n", body, al.Label, al.Time.Format(time.RFC1123))
	}
	mailer := a.Mailer
	if mailer == nil {
		mailer = LogMailer{Log: l}
	}
	if err := mailer.Send(ctx, Message{Subject: al.Label, Body: body, Attachments: photos}); err != nil {
		metrics.IncError(metrics.ErrMail)
		return err
	}
	return nil
}

// Notify runs Send synchronously and only logs failures.
func (a *Alerter) Notify(ctx context.Context, label string) {
	if err := a.Send(ctx, Alert{Label: label, Time: time.Now()}); err != nil {
		logging.Or(a.Log).Error("notify_failed", "label", label, "error", err)
	}
}

func (a *Alerter) capture(ctx context.Context, l *slog.Logger) []string {
	if len(a.Cameras) == 0 {
		return nil
	}
	run := a.Run
	if run == nil {
		run = ExecRunner
	}
	timeout := a.CaptureTimeout
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	if len(a.PreCapture) > 0 {
		cctx, cancel := context.WithTimeout(ctx, timeout)
		if err := run(cctx, a.PreCapture); err != nil {
			metrics.IncError(metrics.ErrCapture)
			l.Warn("pre_capture_failed", "error", err)
		}
		cancel()
	}
	if a.Lamp != nil {
		if err := a.Lamp(true); err != nil {
			l.Warn("lamp_on_failed", "error", err)
		}
		defer func() {
			if err := a.Lamp(false); err != nil {
				l.Warn("lamp_off_failed", "error", err)
			}
		}()
	}
	dir := a.OutputDir
	if dir == "" {
		dir = os.TempDir()
	}
	var photos []string
	for i, cam := range a.Cameras {
		name := cam.Name
		if name == "" {
			name = fmt.Sprintf("cam%d", i)
		}
		out := filepath.Join(dir, "alarm-"+name+".jpg")
		_ = os.Remove(out) // a stale still must not be mailed
		argv := expand(cam.Command, cam.Device, out)
		cctx, cancel := context.WithTimeout(ctx, timeout)
		err := run(cctx, argv)
		cancel()
		if err == nil {
			_, err = os.Stat(out)
		}
		if err != nil {
			metrics.IncError(metrics.ErrCapture)
			l.Warn("capture_failed", "camera", name, "device", cam.Device, "error", err)
			continue
		}
		photos = append(photos, out)
	}
	return photos
}

func expand(cmd []string, device, output string) []string {
	r := strings.NewReplacer("{device}", device, "{output}", output)
	out := make([]string, len(cmd))
	for i, arg := range cmd {
		out[i] = r.Replace(arg)
	}
	return out
}
