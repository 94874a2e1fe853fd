package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Zuo-Peng/chatmask/internal/archive"
	"github.com/Zuo-Peng/chatmask/internal/archive/archivetest"
	"github.com/Zuo-Peng/chatmask/internal/parse"
)

const conversationsJSON = `[
  {"title": "Recipes", "mapping": {
    "r": {"message": null},
    "a": {"message": {"author": {"role": "user"}, "create_time": 1, "content": {"content_type": "text", "parts": ["How do I bake bread?"]}}},
    "b": {"message": {"author": {"role": "assistant"}, "create_time": 2, "content": {"content_type": "text", "parts": ["Flour, water, salt, yeast."]}}}
  }},
  {"title": "", "mapping": {
    "a": {"message": {"author": {"role": "user"}, "content": {"parts": ["untitled"]}}}
  }}
]`

type fakeReporter struct {
	failures []Failure
	err      error
}

func (f *fakeReporter) ReportFailure(_ context.Context, fl Failure) error {
	f.failures = append(f.failures, fl)
	return f.err
}

func newIngester(t *testing.T) (*Ingester, *observer.ObservedLogs, *fakeReporter) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	rep := &fakeReporter{}
	return &Ingester{
		Logger:   zap.New(core),
		Reporter: rep,
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	}, logs, rep
}

func TestIngest_Export(t *testing.T) {
	in, logs, rep := newIngester(t)
	data := archivetest.Zip(t,
		archivetest.File{Name: "chat.html", Body: "<html></html>"},
		archivetest.File{Name: "conversations.json", Body: conversationsJSON},
		archivetest.File{Name: "user.json", Body: `{"id": "user-1", "email": "x@y.z"}`},
		archivetest.File{Name: "images/"},
	)

	res, err := in.Ingest(context.Background(), archive.Source{Name: "export.zip"}, data)
	require.NoError(t, err)
	require.Len(t, res.Conversations, 2)

	first := res.Conversations[0]
	assert.Equal(t, "0-0", first.ID)
	assert.Equal(t, "Recipes", first.Title)
	assert.Len(t, first.Messages, 2)
	assert.Equal(t, "0-1", res.Conversations[1].ID)
	assert.Equal(t, "Conversation 1", res.Conversations[1].Title)

	assert.Empty(t, res.Recovered)
	assert.Equal(t, 2, res.Stats.Parsed)
	assert.Equal(t, 2, res.Stats.Archive.Candidates)
	assert.Empty(t, rep.failures)
	assert.Equal(t, 1, logs.FilterMessage("archive ingested").Len())

	assert.Equal(t, 1.0, counterValue(t, in.Metrics.Archives.WithLabelValues("ok")))
	assert.Equal(t, 2.0, counterValue(t, in.Metrics.Conversations))
}

func TestIngest_GarbageEntryRecovered(t *testing.T) {
	in, logs, rep := newIngester(t)
	garbage := "{not json at all" + strings.Repeat("x", 400)
	data := archivetest.Zip(t,
		archivetest.File{Name: "broken.json", Body: garbage},
		archivetest.File{Name: "conversation.json", Body: `{"title": "Only", "mapping": {"n": {"message": {"author": {"role": "user"}, "content": {"parts": ["hi"]}}}}}`},
	)

	res, err := in.Ingest(context.Background(), archive.Source{Name: "export.zip"}, data)
	require.NoError(t, err)
	require.Len(t, res.Conversations, 1)
	// the broken entry does not advance the entry index
	assert.Equal(t, "0", res.Conversations[0].ID)
	assert.Equal(t, "Only", res.Conversations[0].Title)

	require.Len(t, res.Recovered, 1)
	ee := res.Recovered[0]
	assert.Equal(t, "broken.json", ee.Name)
	assert.Len(t, []rune(ee.Preview), previewLen)
	var perr *parse.Error
	assert.True(t, errors.As(ee, &perr))

	warn := logs.FilterMessage("entry skipped").All()
	require.Len(t, warn, 1)
	assert.Equal(t, zapcore.WarnLevel, warn[0].Level)
	assert.Equal(t, "broken.json", warn[0].ContextMap()["entry"])
	assert.Empty(t, rep.failures)
	assert.Equal(t, 1.0, counterValue(t, in.Metrics.Entries.WithLabelValues("malformed")))
}

func TestIngest_EmptyResult(t *testing.T) {
	cases := map[string][]archivetest.File{
		"no candidates": {
			{Name: "chat.html", Body: "<html></html>"},
			{Name: "conversations/"},
		},
		"only metadata": {
			{Name: "user.json", Body: `{"email": "me@example.com"}`},
		},
		"only empty conversations": {
			{Name: "conversations.json", Body: `[{"title": "t", "mapping": {"r": {"message": null}}}]`},
		},
		"only garbage": {
			{Name: "a.json", Body: "nope"},
		},
	}

	for name, files := range cases {
		t.Run(name, func(t *testing.T) {
			in, logs, rep := newIngester(t)
			data := archivetest.Zip(t, files...)

			res, err := in.Ingest(context.Background(), archive.Source{Name: "export.zip"}, data)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrEmptyResult)
			require.NotNil(t, res)
			assert.Empty(t, res.Conversations)

			require.Len(t, rep.failures, 1)
			f := rep.failures[0]
			assert.Equal(t, "export.zip", f.Source.Name)
			assert.Equal(t, int64(len(data)), f.Source.Size)
			assert.ErrorIs(t, f.Err, ErrEmptyResult)
			assert.NotEmpty(t, f.Details)
			assert.Equal(t, 1, logs.FilterMessage("ingestion failed").Len())
			assert.Equal(t, 1.0, counterValue(t, in.Metrics.Archives.WithLabelValues("empty")))
		})
	}
}

func TestIngest_CorruptArchive(t *testing.T) {
	in, _, rep := newIngester(t)

	res, err := in.Ingest(context.Background(), archive.Source{Name: "export.zip"}, []byte("PK but not really"))
	assert.Nil(t, res)
	var aerr *archive.Error
	require.True(t, errors.As(err, &aerr))
	require.Len(t, rep.failures, 1)
	assert.Equal(t, 1.0, counterValue(t, in.Metrics.Archives.WithLabelValues("archive_error")))
}

func TestIngest_NotZipName(t *testing.T) {
	in, logs, rep := newIngester(t)
	data := archivetest.Zip(t, archivetest.File{Name: "conversations.json", Body: conversationsJSON})

	res, err := in.Ingest(context.Background(), archive.Source{Name: "export.rar"}, data)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, archive.ErrNotZip)
	require.Len(t, rep.failures, 1)
	assert.Equal(t, "export.rar", rep.failures[0].Source.Name)
	assert.Contains(t, rep.failures[0].Details, archive.ErrNotZip.Error())
	assert.Equal(t, 1, logs.FilterMessage("ingestion failed").Len())
	assert.Equal(t, 1.0, counterValue(t, in.Metrics.Archives.WithLabelValues("archive_error")))
}

func TestIngest_ReporterFailureDoesNotMaskError(t *testing.T) {
	in, logs, rep := newIngester(t)
	rep.err = errors.New("endpoint down")

	_, err := in.Ingest(context.Background(), archive.Source{Name: "x.zip"}, []byte("garbage"))
	var aerr *archive.Error
	assert.True(t, errors.As(err, &aerr))
	assert.Equal(t, 1, logs.FilterMessage("diagnostics report failed").Len())
}

func TestIngest_ZeroValue(t *testing.T) {
	var in Ingester
	data := archivetest.Zip(t, archivetest.File{Name: "c.json", Body: `{"title": "x", "messages": [{"role": "user", "content": "hi"}]}`})

	res, err := in.Ingest(context.Background(), archive.Source{Name: "c.zip"}, data)
	require.NoError(t, err)
	require.Len(t, res.Conversations, 1)
	assert.Equal(t, "0", res.Conversations[0].ID)
}

func TestIngest_Canceled(t *testing.T) {
	var in Ingester
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	data := archivetest.Zip(t, archivetest.File{Name: "c.json", Body: `{}`})
	_, err := in.Ingest(ctx, archive.Source{Name: "c.zip"}, data)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngestFile(t *testing.T) {
	in, _, rep := newIngester(t)
	dir := t.TempDir()

	notZip := filepath.Join(dir, "export.tar")
	require.NoError(t, os.WriteFile(notZip, []byte("x"), 0o600))
	_, err := in.IngestFile(context.Background(), notZip)
	assert.ErrorIs(t, err, archive.ErrNotZip)
	assert.Len(t, rep.failures, 1)
	assert.Equal(t, 1.0, counterValue(t, in.Metrics.Archives.WithLabelValues("archive_error")))

	path := filepath.Join(dir, "Export.ZIP")
	require.NoError(t, os.WriteFile(path, archivetest.Zip(t, archivetest.File{Name: "conversations.json", Body: conversationsJSON}), 0o600))
	res, err := in.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, res.Conversations, 2)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := strings.Repeat("é", 250)
	assert.Equal(t, strings.Repeat("é", 200), preview(long))
}
