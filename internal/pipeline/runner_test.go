package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/tiff"

	"git.home.luguber.info/inful/imagebuilder/internal/config"
	iberrors "git.home.luguber.info/inful/imagebuilder/internal/errors"
	"git.home.luguber.info/inful/imagebuilder/internal/marker"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
	"git.home.luguber.info/inful/imagebuilder/internal/workspace"
)

var fixedNow = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type site struct {
	t    *testing.T
	root string
	cfg  config.Config
}

func newSite(t *testing.T, catalog ...string) *site {
	t.Helper()
	root := t.TempDir()
	s := &site{t: t, root: root}
	for _, dir := range []string{"_data", "images/originals"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o750))
	}

	var inv strings.Builder
	for _, c := range catalog {
		inv.WriteString("- title: entry\n  image: " + c + "\n")
	}
	s.write("_data/pictures.yaml", []byte(inv.String()))
	s.write("font.ttf", goregular.TTF)

	cfg := config.Default()
	cfg.Root = root
	cfg.Inventories = []string{"_data/pictures.yaml"}
	cfg.Watermark.FontPath = filepath.Join(root, "font.ttf")
	cfg.Output.MaxEdge = 1024
	cfg.Output.ThumbEdge = 200
	cfg.Workers = 2
	s.cfg = cfg
	return s
}

func (s *site) path(rel string) string { return filepath.Join(s.root, filepath.FromSlash(rel)) }

func (s *site) write(rel string, data []byte) {
	s.t.Helper()
	p := s.path(rel)
	require.NoError(s.t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(s.t, os.WriteFile(p, data, 0o600))
}

func (s *site) original(name string, w, h int) {
	s.t.Helper()
	img := gradient(w, h)
	var buf bytes.Buffer
	switch filepath.Ext(name) {
	case ".png":
		require.NoError(s.t, png.Encode(&buf, img))
	case ".tif", ".tiff":
		require.NoError(s.t, tiff.Encode(&buf, img, nil))
	default:
		require.NoError(s.t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	}
	s.write("images/originals/"+name, buf.Bytes())
}

func (s *site) run(ctx context.Context, opts ...Option) (*Report, error) {
	s.t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewRunner(s.cfg, opts...).Run(ctx)
}

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 120, A: 255})
		}
	}
	return img
}

func result(t *testing.T, rep *Report, catalogPath string) Result {
	t.Helper()
	for _, r := range rep.Results {
		if r.CatalogPath == catalogPath {
			return r
		}
	}
	t.Fatalf("no result for %s", catalogPath)
	return Result{}
}

func longEdge(t *testing.T, p string) int {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	require.NoError(t, err)
	return max(cfg.Width, cfg.Height)
}

type countingRecorder struct {
	metrics.NoopRecorder
	states   map[string]int
	outcomes []metrics.RunOutcome
	orphans  int
}

func (c *countingRecorder) IncEntryResult(state string)        { c.states[state]++ }
func (c *countingRecorder) IncRunOutcome(o metrics.RunOutcome) { c.outcomes = append(c.outcomes, o) }
func (c *countingRecorder) AddOrphansRemoved(n int)            { c.orphans += n }

func TestRunWatermarksEligibleEntry(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg", "images/art_1.jpg")
	s.original("nature_5.jpg", 1280, 800)
	s.original("art_1.jpg", 1280, 800)

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Built)
	assert.Equal(t, "Watermark generation complete: wrote=2 skipped=0 missing=0 failed=0", rep.Summary())

	nature := result(t, rep, "images/nature_5.jpg")
	assert.Equal(t, StateBuilt, nature.State)
	assert.True(t, nature.Marked)
	assert.False(t, result(t, rep, "images/art_1.jpg").Marked)

	assert.FileExists(t, s.path("images/wm/nature_5.jpg"))
	assert.FileExists(t, s.path("images/wm/nature_5.webp"))
	assert.FileExists(t, s.path("images/wm/thumb/nature_5.jpg"))
	assert.FileExists(t, s.path("images/wm/thumb/nature_5.webp"))

	src, err := os.ReadFile(s.path("images/originals/nature_5.jpg"))
	require.NoError(t, err)
	out, err := os.ReadFile(s.path("images/wm/nature_5.jpg"))
	require.NoError(t, err)
	assert.NotEqual(t, src, out)
}

func TestRunMissingSourceIsNotAFailure(t *testing.T) {
	s := newSite(t, "images/science_2.png")

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Missing)
	assert.Equal(t, 0, rep.Failed)
	assert.Equal(t, []string{"Missing: images/science_2.png"}, rep.Diagnostics())
	assert.NoError(t, rep.Err())
	assert.Equal(t, metrics.OutcomeSuccess, rep.Outcome)
}

func TestRunRemapsTIFF(t *testing.T) {
	s := newSite(t, "images/art_old.tif")
	s.original("art_old.tif", 300, 200)

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Built)
	assert.FileExists(t, s.path("images/wm/art_old.png"))
	assert.FileExists(t, s.path("images/wm/art_old.webp"))
	assert.NoFileExists(t, s.path("images/wm/art_old.tif"))
}

func TestRunIsIdempotent(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg", "images/music_2.png")
	s.original("nature_5.jpg", 1280, 800)
	s.original("music_2.png", 320, 200)

	first, err := s.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, first.Built)

	outputs := []string{"nature_5.jpg", "nature_5.webp", "thumb/nature_5.jpg", "music_2.png", "thumb/music_2.png"}
	before := map[string][]byte{}
	stamps := map[string]time.Time{}
	for _, o := range outputs {
		p := s.path("images/wm/" + o)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		fi, err := os.Stat(p)
		require.NoError(t, err)
		before[o], stamps[o] = data, fi.ModTime()
	}

	second, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Built)
	assert.Equal(t, 2, second.Skipped)
	for _, r := range second.Results {
		assert.Equal(t, NoteUpToDate, r.Note)
		assert.Empty(t, r.Written)
	}
	for _, o := range outputs {
		p := s.path("images/wm/" + o)
		data, err := os.ReadFile(p)
		require.NoError(t, err)
		fi, err := os.Stat(p)
		require.NoError(t, err)
		assert.Equal(t, before[o], data, o)
		assert.Equal(t, stamps[o], fi.ModTime(), o)
	}
}

func TestRunForceRebuilds(t *testing.T) {
	s := newSite(t, "images/music_2.png")
	s.original("music_2.png", 320, 200)
	_, err := s.run(context.Background())
	require.NoError(t, err)

	s.cfg.Force = true
	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Built)
}

func TestRunCapsLongEdge(t *testing.T) {
	s := newSite(t, "images/sports_3.jpg", "images/tiny.png")
	s.original("sports_3.jpg", 1600, 900)
	s.original("tiny.png", 120, 80)

	_, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1024, longEdge(t, s.path("images/wm/sports_3.jpg")))
	assert.Equal(t, 200, longEdge(t, s.path("images/wm/thumb/sports_3.jpg")))
	assert.Equal(t, 120, longEdge(t, s.path("images/wm/tiny.png")))
	assert.Equal(t, 120, longEdge(t, s.path("images/wm/thumb/tiny.png")))
}

func TestRunFailureIsIsolated(t *testing.T) {
	s := newSite(t, "images/broken.jpg", "images/music_2.png")
	s.write("images/originals/broken.jpg", []byte("definitely not a jpeg"))
	s.original("music_2.png", 320, 200)

	rec := &countingRecorder{states: map[string]int{}}
	rep, err := s.run(context.Background(), WithRecorder(rec))
	require.Error(t, err)
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryBuild))
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, rep.Built)
	assert.Equal(t, metrics.OutcomeFailed, rep.Outcome)

	diags := rep.Diagnostics()
	require.Len(t, diags, 1)
	assert.True(t, strings.HasPrefix(diags[0], "Failed: images/broken.jpg (decode failed"), diags[0])

	assert.Equal(t, 1, rec.states["failed"])
	assert.Equal(t, 1, rec.states["built"])
	assert.Equal(t, []metrics.RunOutcome{metrics.OutcomeFailed}, rec.outcomes)
}

func TestRunCleanRemovesOnlyOrphans(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg", "images/sports_9.jpg")
	s.original("nature_5.jpg", 400, 300)
	// sports_9 has no original but is already published.
	s.write("images/wm/sports_9.jpg", []byte("published"))
	s.write("images/wm/old_1.jpg", []byte("orphan"))
	s.write("images/wm/thumb/old_1.webp", []byte("orphan"))
	s.write("images/wm/notes.txt", []byte("keep"))
	s.cfg.Clean = true

	rec := &countingRecorder{states: map[string]int{}}
	rep, err := s.run(context.Background(), WithRecorder(rec))
	require.NoError(t, err)

	sports := result(t, rep, "images/sports_9.jpg")
	assert.Equal(t, StateSkipped, sports.State)
	assert.Equal(t, NoteMissingOriginal, sports.Note)

	assert.NoFileExists(t, s.path("images/wm/old_1.jpg"))
	assert.NoFileExists(t, s.path("images/wm/thumb/old_1.webp"))
	assert.FileExists(t, s.path("images/wm/sports_9.jpg"))
	assert.FileExists(t, s.path("images/wm/notes.txt"))
	assert.FileExists(t, s.path("images/wm/nature_5.jpg"))
	assert.FileExists(t, s.path("images/wm/thumb/nature_5.webp"))
	assert.FileExists(t, s.path("images/wm/"+workspace.LockName))

	assert.Len(t, rep.Cleaned, 2)
	assert.Equal(t, "Cleaned 2 orphan files from "+s.path("images/wm"), rep.CleanLine())
	assert.Equal(t, 2, rec.orphans)
}

func TestRunWithoutCleanKeepsOrphans(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg")
	s.original("nature_5.jpg", 400, 300)
	s.write("images/wm/old_1.jpg", []byte("orphan"))

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rep.Cleaned)
	assert.Empty(t, rep.CleanLine())
	assert.FileExists(t, s.path("images/wm/old_1.jpg"))
}

func TestRunDryRunClean(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg")
	s.original("nature_5.jpg", 400, 300)
	s.write("images/wm/old_1.jpg", []byte("orphan"))
	s.cfg.Clean, s.cfg.DryRunClean = true, true

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{s.path("images/wm/old_1.jpg")}, rep.Cleaned)
	assert.True(t, strings.HasPrefix(rep.CleanLine(), "Would clean 1 orphan files"))
	assert.FileExists(t, s.path("images/wm/old_1.jpg"))
}

func TestRunForcedMissingSourceDropsPublished(t *testing.T) {
	s := newSite(t, "images/sports_9.jpg")
	s.write("images/wm/sports_9.jpg", []byte("published"))
	s.cfg.Force = true

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateMissing, result(t, rep, "images/sports_9.jpg").State)
}

func TestRunSkipsEntriesOutsidePrefix(t *testing.T) {
	s := newSite(t, "assets/logo.png")
	s.write("assets/logo.png", []byte("not decoded"))

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	res := result(t, rep, "assets/logo.png")
	assert.Equal(t, StateSkipped, res.State)
	assert.Equal(t, NoteOutsidePrefix, res.Note)
	assert.NoFileExists(t, s.path("images/wm/logo.png"))
}

func TestRunMissingOutsidePrefixIgnoresPublished(t *testing.T) {
	s := newSite(t, "assets/logo.png")
	s.write("images/wm/logo.png", []byte("published"))

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	res := result(t, rep, "assets/logo.png")
	assert.Equal(t, StateMissing, res.State)
	assert.Empty(t, res.Outputs)
	assert.Equal(t, 1, rep.Missing)
}

func TestRunWritesMarker(t *testing.T) {
	s := newSite(t, "images/science_2.png")

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	m, err := marker.Read(s.path("_data/watermark_build.yaml"))
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Unix(), m.Nonce)
	assert.Equal(t, rep.RunID, m.RunID)
	assert.Equal(t, "images/wm", m.OutDir)
	assert.Equal(t, config.DefaultText, m.Text)
	assert.InDelta(t, config.DefaultAngle, m.Angle, 1e-9)
	assert.InDelta(t, config.DefaultOpacity, m.Opacity, 1e-9)
	assert.Equal(t, []string{"nature", "science", "music", "sports"}, m.Prefixes)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg")
	s.cfg.Watermark.Margin = -0.1

	rep, err := s.run(context.Background())
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryValidation))
	assert.NoDirExists(t, s.path("images/wm"))
}

func TestRunRefusesHeldLock(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg")
	require.NoError(t, os.MkdirAll(s.path("images/wm"), 0o750))
	lock := flock.New(s.path("images/wm/" + workspace.LockName))
	ok, err := lock.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer func() { _ = lock.Unlock() }()

	rep, err := s.run(context.Background())
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, iberrors.IsCategory(err, iberrors.CategoryRuntime))
}

func TestRunCanceledSkipsCleanup(t *testing.T) {
	s := newSite(t, "images/nature_5.jpg")
	s.original("nature_5.jpg", 400, 300)
	s.write("images/wm/old_1.jpg", []byte("orphan"))
	s.cfg.Clean = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep, err := s.run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, rep)
	assert.True(t, rep.Canceled)
	assert.Equal(t, metrics.OutcomeCanceled, rep.Outcome)
	assert.FileExists(t, s.path("images/wm/old_1.jpg"))
	assert.FileExists(t, s.path("_data/watermark_build.yaml"))
}

func TestRunReportsInventoryIssues(t *testing.T) {
	s := newSite(t, "images/science_2.png")
	s.cfg.Inventories = append(s.cfg.Inventories, "_data/absent.yaml")

	rep, err := s.run(context.Background())
	require.NoError(t, err)
	assert.Len(t, rep.Issues, 1)
	assert.Equal(t, 1, rep.Entries)
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 1, workerCount(4, 0))
	assert.Equal(t, 3, workerCount(8, 3))
	assert.Equal(t, 2, workerCount(2, 10))
	assert.GreaterOrEqual(t, workerCount(0, 1000), 1)
}

func TestStateTerminal(t *testing.T) {
	for _, st := range []State{StateMissing, StateSkipped, StateBuilt, StateFailed} {
		assert.True(t, st.Terminal(), st)
	}
	for _, st := range []State{StatePending, StateResolving, StateResolved} {
		assert.False(t, st.Terminal(), st)
	}
}
