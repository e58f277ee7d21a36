package scraperexec

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"seatwatch/internal/integrations/classinfo"
	"seatwatch/internal/models"
)

const defaultTimeout = 45 * time.Second

type Config struct {
	// Python is the interpreter binary, default "python3".
	Python string
	// Script is the path to the catalog scraper script.
	Script string
	// Timeout is the hard per-invocation bound. When exceeded the child is
	// killed immediately: a stuck headless browser must not outlive the call.
	Timeout time.Duration
}

// Client runs the catalog scraper as an isolated child process and parses the
// single JSON document it prints on stdout. It gives no concurrency
// guarantees; admission control lives in the launch queue.
type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.Python == "" {
		cfg.Python = "python3"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{cfg: cfg}
}

func (c *Client) Lookup(ctx context.Context, classNumber string) (classinfo.ClassStatus, error) {
	if strings.TrimSpace(classNumber) == "" {
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrNotFound, ClassNumber: classNumber,
			Err: errors.New("empty class number"),
		}
	}

	sb, err := newSandbox()
	if err != nil {
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrProcessFailure, ClassNumber: classNumber, Err: err,
		}
	}
	defer sb.Cleanup()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.cfg.Python, c.cfg.Script, classNumber)
	cmd.Env = sb.Env()
	cmd.Dir = sb.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		// The process was already killed by CommandContext; just classify.
		logScraperFailure(classNumber, "timeout", stderr.Bytes())
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrTimeout, ClassNumber: classNumber, Err: ctx.Err(),
		}
	}
	if runErr != nil {
		logScraperFailure(classNumber, "process failure", stderr.Bytes())
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrProcessFailure, ClassNumber: classNumber, Err: runErr,
		}
	}

	st, err := parseOutput(classNumber, stdout.Bytes())
	if err != nil {
		logScraperFailure(classNumber, "bad output", stderr.Bytes())
		return classinfo.ClassStatus{}, err
	}
	return st, nil
}

// scraperPayload mirrors the script's stdout contract: one JSON document,
// either the class record or {"error": "..."}.
type scraperPayload struct {
	Error string `json:"error"`

	Number      string   `json:"number"`
	Course      string   `json:"course"`
	Title       string   `json:"title"`
	Instructors []string `json:"instructors"`
	Days        string   `json:"days"`
	StartTime   string   `json:"startTime"`
	EndTime     string   `json:"endTime"`
	Location    string   `json:"location"`
	Dates       string   `json:"dates"`
	Units       string   `json:"units"`
	SeatStatus  string   `json:"seatStatus"`
}

func parseOutput(classNumber string, out []byte) (classinfo.ClassStatus, error) {
	var p scraperPayload
	if err := json.Unmarshal(bytes.TrimSpace(out), &p); err != nil {
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrParseFailure, ClassNumber: classNumber,
			Err: errors.Wrap(err, "decode scraper output"),
		}
	}

	if p.Error != "" {
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrNotFound, ClassNumber: classNumber,
			Err: errors.New(p.Error),
		}
	}

	if p.SeatStatus != models.SeatStatusOpen && p.SeatStatus != models.SeatStatusClosed {
		return classinfo.ClassStatus{}, &classinfo.LookupError{
			Kind: classinfo.ErrParseFailure, ClassNumber: classNumber,
			Err: errors.Errorf("unexpected seatStatus %q", p.SeatStatus),
		}
	}

	number := p.Number
	if number == "" {
		number = classNumber
	}

	return classinfo.ClassStatus{
		ClassNumber: number,
		Course:      orNA(p.Course),
		Title:       orNA(p.Title),
		Instructors: p.Instructors,
		Days:        orNA(p.Days),
		StartTime:   orNA(p.StartTime),
		EndTime:     orNA(p.EndTime),
		Location:    orNA(p.Location),
		Dates:       orNA(p.Dates),
		Units:       orNA(p.Units),
		SeatStatus:  p.SeatStatus,
	}, nil
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return classinfo.NA
	}
	return s
}

// Diagnostics from the child are operability breadcrumbs, not part of the
// lookup contract.
func logScraperFailure(classNumber, reason string, stderr []byte) {
	out := string(bytes.TrimSpace(stderr))
	if len(out) > 2048 {
		out = out[len(out)-2048:]
	}
	slog.Error("scraper invocation failed",
		"class_number", classNumber,
		"reason", reason,
		"stderr", out,
	)
}
