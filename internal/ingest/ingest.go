package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Zuo-Peng/chatmask/internal/archive"
	"github.com/Zuo-Peng/chatmask/internal/normalize"
	"github.com/Zuo-Peng/chatmask/internal/parse"
	"github.com/Zuo-Peng/chatmask/internal/scan"
)

// previewLen is how much of an unparsable entry is kept for diagnostics.
const previewLen = 200

// Hint is shown with batch-level failures.
const Hint = "Please make sure you exported your data correctly from ChatGPT and upload the unmodified ZIP file. If the issue persists, use the help form."

// ErrEmptyResult means the archive was readable but held no conversation
// with at least one message.
var ErrEmptyResult = errors.New("no ChatGPT conversations found in ZIP file")

// EntryError records a candidate entry that was skipped.
type EntryError struct {
	Name    string
	Err     error
	Preview string
}

func (e EntryError) Error() string {
	return fmt.Sprintf("entry %s: %v", e.Name, e.Err)
}

func (e EntryError) Unwrap() error {
	return e.Err
}

type Stats struct {
	Archive   scan.Stats
	Parsed    int
	Malformed int
	Normalize normalize.Stats
}

func (s Stats) String() string {
	return fmt.Sprintf("%s parsed=%d malformed=%d %s", s.Archive, s.Parsed, s.Malformed, s.Normalize)
}

type Result struct {
	Conversations []parse.Conversation
	Recovered     []EntryError
	Stats         Stats
}

// Failure describes a fatal ingestion for the diagnostics channel.
type Failure struct {
	Source  archive.Source
	Err     error
	Details string
}

// Reporter forwards fatal ingestion failures. Its errors never replace the
// ingestion error.
type Reporter interface {
	ReportFailure(ctx context.Context, f Failure) error
}

// Ingester runs the archive, scan, parse and normalize stages over one archive
// at a time. The zero value is usable.
type Ingester struct {
	Logger   *zap.Logger
	Reporter Reporter
	Metrics  *Metrics
	Options  parse.Options
}

// IngestFile reads path and ingests it.
func (in *Ingester) IngestFile(ctx context.Context, path string) (*Result, error) {
	name := filepath.Base(path)
	if err := archive.CheckName(name); err != nil {
		return nil, in.fail(ctx, archive.Source{Name: name}, err, nil, time.Now())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return in.Ingest(ctx, archive.Source{Name: name, Size: int64(len(data))}, data)
}

// Ingest processes an in-memory archive. Entries are handled sequentially in
// archive order; an unparsable entry is recorded in Result.Recovered and
// skipped. The returned error is an *archive.Error, ErrEmptyResult or the
// context's error. A source name without a .zip suffix fails before the data
// is opened.
func (in *Ingester) Ingest(ctx context.Context, src archive.Source, data []byte) (*Result, error) {
	start := time.Now()
	log := in.logger().With(zap.String("archive", src.Name))

	if err := archive.CheckName(src.Name); err != nil {
		return nil, in.fail(ctx, src, err, nil, start)
	}

	a, err := archive.Open(src, data)
	if err != nil {
		return nil, in.fail(ctx, src, err, nil, start)
	}
	src = a.Source

	res := &Result{}
	candidates, scanStats := scan.Candidates(a.Entries())
	res.Stats.Archive = scanStats
	log.Debug("archive opened", zap.Stringer("entries", scanStats))

	var entries []normalize.Indexed
	for _, e := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		text, err := e.Decode()
		if err != nil {
			in.Metrics.entry("unreadable")
			res.Stats.Malformed++
			res.Recovered = append(res.Recovered, EntryError{Name: e.Name, Err: err})
			log.Warn("entry unreadable", zap.String("entry", e.Name), zap.Error(err))
			continue
		}

		doc, err := parse.ParseEntry(text)
		if err != nil {
			in.Metrics.entry("malformed")
			res.Stats.Malformed++
			ee := EntryError{Name: e.Name, Err: err, Preview: preview(text)}
			res.Recovered = append(res.Recovered, ee)
			log.Warn("entry skipped", zap.String("entry", e.Name), zap.Error(err), zap.String("preview", ee.Preview))
			continue
		}

		in.Metrics.entry("parsed")
		entries = append(entries, normalize.Indexed{Index: len(entries), Name: e.Name, Doc: doc})
	}
	res.Stats.Parsed = len(entries)

	res.Conversations, res.Stats.Normalize = normalize.Normalize(entries, in.Options)
	if len(res.Conversations) == 0 {
		err := fmt.Errorf("%w (%s)", ErrEmptyResult, res.Stats)
		return res, in.fail(ctx, src, err, res, start)
	}

	in.Metrics.archive("ok", time.Since(start).Seconds())
	in.Metrics.conversations(len(res.Conversations))
	log.Info("archive ingested",
		zap.Int("conversations", len(res.Conversations)),
		zap.Int("messages", res.Stats.Normalize.Messages),
		zap.Int("skipped_entries", len(res.Recovered)),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (in *Ingester) fail(ctx context.Context, src archive.Source, err error, res *Result, start time.Time) error {
	outcome := "archive_error"
	if errors.Is(err, ErrEmptyResult) {
		outcome = "empty"
	}
	in.Metrics.archive(outcome, time.Since(start).Seconds())

	log := in.logger().With(zap.String("archive", src.Name), zap.Int64("size", src.Size))
	log.Error("ingestion failed", zap.Error(err))

	if in.Reporter != nil {
		f := Failure{Source: src, Err: err, Details: details(err, res)}
		if rerr := in.Reporter.ReportFailure(ctx, f); rerr != nil {
			log.Warn("diagnostics report failed", zap.Error(rerr))
		}
	}
	return err
}

func (in *Ingester) logger() *zap.Logger {
	if in.Logger == nil {
		return zap.NewNop()
	}
	return in.Logger
}

// details renders the error chain and the skipped entries, one per line.
func details(err error, res *Result) string {
	var b strings.Builder
	for e := err; e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "%T: %v\n", e, e)
	}
	if res != nil {
		for _, ee := range res.Recovered {
			fmt.Fprintf(&b, "skipped %s: %v\n", ee.Name, ee.Err)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLen {
		return text
	}
	return string([]rune(text)[:previewLen])
}
