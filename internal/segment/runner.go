// Package segment wraps the external vehicle-part segmentation script.  A
// run writes the upload to a temp file, gives the script a per-run output
// directory under <public>/segments/<timestamp>/ and reads back the JSON
// sidecar the script leaves there.
package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/carmod-studio/internal/apperr"
)

const (
	SidecarName  = "segmentation_results.json"
	OriginalName = "original.jpg"
	ModifiedName = "modified.jpg"
	segmentsDir  = "segments"
)

var timestampPattern = regexp.MustCompile(`^[0-9]{1,20}$`)

type Config struct {
	Python         string        // interpreter, e.g. python3
	Script         string        // path to the segmentation script
	DetectScript   string        // part detector, see Detect
	MaskScript     string        // per-detection mask script, see DetectAndSegment
	ClassifyScript string        // car classifier, see Classify
	PublicDir      string        // static root; outputs go to <PublicDir>/segments and /detections
	TempDir        string        // uploads are staged here, "" means os.TempDir
	Timeout        time.Duration // hard limit for one run
}

// Part is one entry of the sidecar.  Unknown keys are passed through.
type Part map[string]any

func (p Part) ClassName() string {
	s, _ := p["class_name"].(string)
	return s
}

type Result struct {
	Timestamp         string `json:"timestamp"`
	SegmentedImageURL string `json:"segmentedImageUrl"`
	SegmentedParts    []Part `json:"segmentedParts"`
}

type Data struct {
	Timestamp        string `json:"timestamp"`
	OriginalImageURL string `json:"originalImageUrl"`
	ModifiedImageURL string `json:"modifiedImageUrl"`
	SegmentedParts   []Part `json:"segmentedParts"`
}

type Runner struct {
	cfg Config
	now func() time.Time
}

func NewRunner(cfg Config) *Runner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Runner{cfg: cfg, now: time.Now}
}

// Run segments image.  When parts is non-empty the script is asked for
// those classes only and the sidecar is filtered to them.  The staged upload
// is removed on every path; the output directory is removed when the run
// fails.
func (r *Runner) Run(ctx context.Context, image io.Reader, parts []string) (Result, error) {
	root := filepath.Join(r.cfg.PublicDir, segmentsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Result{}, apperr.Wrap(apperr.CodeUpstream, err, "prepare output directory")
	}
	ts, outDir, err := r.claimDir(root)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeUpstream, err, "prepare output directory")
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(outDir)
		}
	}()

	staged, err := r.stage(image, ts)
	if err != nil {
		return Result{}, err
	}
	defer os.Remove(staged)
	if err := copyFile(staged, filepath.Join(outDir, OriginalName)); err != nil {
		return Result{}, apperr.Wrap(apperr.CodeUpstream, err, "store original")
	}

	args := []string{staged, outDir}
	if len(parts) > 0 {
		args = append(args, "--parts", strings.Join(parts, ","))
	}
	if _, err := r.invoke(ctx, r.cfg.Script, args...); err != nil {
		return Result{}, err
	}

	found, err := readSidecar(outDir, ts)
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeUpstream, err, "read segmentation results")
	}
	ok = true
	return Result{
		Timestamp:         ts,
		SegmentedImageURL: publicURL(segmentsDir, ts, ModifiedName),
		SegmentedParts:    filterParts(found, parts),
	}, nil
}

// invoke runs script under the configured interpreter, bounded by the run
// timeout, and returns what it printed on stdout.  A deadline, whether from
// the timeout or from ctx, yields SEGMENTATION_TIMEOUT.
func (r *Runner) invoke(ctx context.Context, script string, args ...string) (string, error) {
	if script == "" {
		return "", apperr.New(apperr.CodeUpstream, "image processing script is not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.cfg.Python, append([]string{script}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", apperr.New(apperr.CodeSegmentationTimeout, fmt.Sprintf("%s exceeded %s", filepath.Base(script), r.cfg.Timeout))
	}
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstream, fmt.Errorf("%w: %s", err, tail(stderr.String(), 512)), filepath.Base(script)+" failed")
	}
	return stdout.String(), nil
}

// stage writes the upload to a temp file and returns its path.  The caller
// removes it.
func (r *Runner) stage(image io.Reader, prefix string) (string, error) {
	tmp, err := os.CreateTemp(r.cfg.TempDir, prefix+"-upload-*")
	if err != nil {
		return "", apperr.Wrap(apperr.CodeUpstream, err, "stage upload")
	}
	if _, err := io.Copy(tmp, image); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", apperr.Wrap(apperr.CodeUpstream, err, "stage upload")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", apperr.Wrap(apperr.CodeUpstream, err, "stage upload")
	}
	return tmp.Name(), nil
}

// claimDir creates a fresh output directory named after the current time in
// milliseconds, stepping forward on collision.
func (r *Runner) claimDir(root string) (string, string, error) {
	ms := r.now().UnixMilli()
	for i := 0; i < 1000; i++ {
		ts := strconv.FormatInt(ms+int64(i), 10)
		dir := filepath.Join(root, ts)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return ts, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", err
		}
	}
	return "", "", errors.New("no free output directory")
}

// Data returns the stored results of an earlier run.  ts must be numeric so
// it can never name a path outside the segments directory.
func (r *Runner) Data(ts string) (Data, error) {
	if !timestampPattern.MatchString(ts) {
		return Data{}, apperr.Validation("timestamp must be numeric")
	}
	dir := filepath.Join(r.cfg.PublicDir, segmentsDir, ts)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return Data{}, apperr.NotFound("segmentation data not found")
	}
	if _, err := os.Stat(filepath.Join(dir, OriginalName)); err != nil {
		return Data{}, apperr.NotFound("original image not found")
	}
	found, err := readSidecar(dir, ts)
	if errors.Is(err, fs.ErrNotExist) {
		return Data{}, apperr.NotFound("segmentation results not found")
	}
	if err != nil {
		return Data{}, apperr.Wrap(apperr.CodeUpstream, err, "read segmentation results")
	}
	d := Data{
		Timestamp:        ts,
		OriginalImageURL: publicURL(segmentsDir, ts, OriginalName),
		SegmentedParts:   found,
	}
	if _, err := os.Stat(filepath.Join(dir, ModifiedName)); err == nil {
		d.ModifiedImageURL = publicURL(segmentsDir, ts, ModifiedName)
	}
	return d, nil
}

// readSidecar parses the results file and rewrites file paths written by
// the script into public URLs.
func readSidecar(dir, ts string) ([]Part, error) {
	raw, err := os.ReadFile(filepath.Join(dir, SidecarName))
	if err != nil {
		return nil, err
	}
	var parts []Part
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("decode %s: %w", SidecarName, err)
	}
	for _, p := range parts {
		for _, key := range []string{"segmented_image_path", "mask_path"} {
			if v, ok := p[key].(string); ok && v != "" {
				p[key] = publicURL(segmentsDir, ts, filepath.Base(filepath.FromSlash(v)))
			}
		}
	}
	if parts == nil {
		parts = []Part{}
	}
	return parts, nil
}

func filterParts(all []Part, want []string) []Part {
	if len(want) == 0 {
		return all
	}
	keep := make(map[string]bool, len(want))
	for _, w := range want {
		keep[w] = true
	}
	out := []Part{}
	for _, p := range all {
		if keep[p.ClassName()] {
			out = append(out, p)
		}
	}
	return out
}

func publicURL(dir, ts, name string) string {
	return path.Join("/", dir, ts, name)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
