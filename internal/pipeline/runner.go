package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"newsdigest/internal/digest"
	"newsdigest/internal/model"
	"newsdigest/internal/notify"
)

// Exporter writes a day's rows to a file and returns its path, or "" when nothing was written.
type Exporter interface {
	WriteDay(day time.Time, rows []model.Article) (string, error)
}

// Notifier delivers messages and files to every configured recipient.
type Notifier interface {
	SendMessage(ctx context.Context, text string) []notify.Result
	SendFile(ctx context.Context, path, caption string) []notify.Result
}

// DeliveryReport records what each delivery sink did for one date.
type DeliveryReport struct {
	Date        time.Time
	Rows        int
	ExportPath  string
	ExportErr   error
	FileResults []notify.Result
	Summaries   int
	Messages    []notify.Result
	DigestErr   error
}

// Err joins every sink failure of the report, or returns nil.
func (r DeliveryReport) Err() error {
	var errs []error
	if r.ExportErr != nil {
		errs = append(errs, fmt.Errorf("export: %w", r.ExportErr))
	}
	if r.DigestErr != nil {
		errs = append(errs, fmt.Errorf("digest: %w", r.DigestErr))
	}
	for _, res := range r.FileResults {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("send file to %q: %w", res.Recipient, res.Err))
		}
	}
	for _, res := range r.Messages {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("send message to %q: %w", res.Recipient, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Report is the outcome of a full run.
type Report struct {
	Ingest   IngestSummary
	Delivery DeliveryReport
}

// Runner drives ingestion followed by delivery.
type Runner struct {
	ingester  *Ingester
	subs      SubscriptionSource
	assembler *digest.Assembler
	exporter  Exporter
	notifier  Notifier
	log       *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(ingester *Ingester, subs SubscriptionSource, assembler *digest.Assembler, exporter Exporter, notifier Notifier, log *slog.Logger) *Runner {
	return &Runner{
		ingester:  ingester,
		subs:      subs,
		assembler: assembler,
		exporter:  exporter,
		notifier:  notifier,
		log:       log,
	}
}

// Run ingests and then delivers for day. An ingestion failure aborts the run before
// anything is delivered; delivery failures are only recorded in the report.
func (r *Runner) Run(ctx context.Context, day time.Time) (Report, error) {
	var report Report

	summary, err := r.ingester.RunIngest(ctx)
	report.Ingest = summary
	if err != nil {
		r.log.Error("ingest failed, skipping delivery", "error", err)
		return report, fmt.Errorf("ingest: %w", err)
	}

	report.Delivery = r.Deliver(ctx, day)
	return report, nil
}

// Deliver exports day's rows, sends the file when one was written, and sends the digest.
// Each sink fails independently: a subscription or summarizing failure still exports the file.
func (r *Runner) Deliver(ctx context.Context, day time.Time) DeliveryReport {
	report := DeliveryReport{Date: day}
	log := r.log.With("date", day.Format(time.DateOnly))

	d, err := r.buildDigest(ctx, day)
	if d == nil {
		log.Error("load articles", "error", err)
		report.DigestErr = err
		report.ExportErr = err
		return report
	}
	report.Rows = len(d.Today)

	r.exportFile(ctx, day, d.Today, &report)

	if err != nil {
		log.Error("build digest", "error", err)
		report.DigestErr = err
	} else {
		report.Summaries = len(d.Summaries)
		for _, msg := range d.Messages() {
			report.Messages = append(report.Messages, r.notifier.SendMessage(ctx, msg)...)
		}
	}

	log.Info("delivery finished",
		"rows", report.Rows,
		"export", report.ExportPath,
		"summaries", report.Summaries,
		"messages", len(report.Messages),
		"failed_messages", notify.Failed(report.Messages),
		"failed_files", notify.Failed(report.FileResults),
	)
	return report
}

// buildDigest returns a nil digest only when day's rows could not be loaded.
func (r *Runner) buildDigest(ctx context.Context, day time.Time) (*digest.Digest, error) {
	subs, subsErr := r.subs.Load()
	if subsErr != nil {
		subsErr = fmt.Errorf("load subscriptions: %w", subsErr)
	}

	d, err := r.assembler.Build(ctx, day, subs)
	if err != nil {
		return d, err
	}
	return d, subsErr
}

func (r *Runner) exportFile(ctx context.Context, day time.Time, rows []model.Article, report *DeliveryReport) {
	path, err := r.exporter.WriteDay(day, rows)
	if err != nil {
		r.log.Error("export file", "date", day.Format(time.DateOnly), "error", err)
		report.ExportErr = err
		return
	}
	if path == "" {
		r.log.Info("no rows to export", "date", day.Format(time.DateOnly))
		return
	}
	report.ExportPath = path
	report.FileResults = r.notifier.SendFile(ctx, path, digest.ExportCaption(day))
}
