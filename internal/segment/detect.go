package segment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/iliyamo/carmod-studio/internal/apperr"
)

const (
	DetectionsDir = "detections"
	AnnotatedName = "annotated.jpg"

	// DefaultIoU is the overlap above which two same-class boxes are one part.
	DefaultIoU = 0.5
)

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Detection is one part found by the detector.  BBox is [x1, y1, x2, y2];
// CenterPoint is the prompt handed to the mask script.
type Detection struct {
	ClassName   string     `json:"class_name"`
	Confidence  float64    `json:"confidence"`
	BBox        [4]float64 `json:"bbox"`
	CenterPoint [2]float64 `json:"center_point"`
}

type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type DetectOptions struct {
	MinConfidence float64
	NMS           bool
	IoU           float64 // 0 means DefaultIoU
}

type DetectMetadata struct {
	TotalDetections     int             `json:"total_detections"`
	ImageDimensions     Dimensions      `json:"image_dimensions"`
	ModelInfo           json.RawMessage `json:"model_info,omitempty"`
	DetectionParameters json.RawMessage `json:"detection_parameters,omitempty"`
	ProcessingTimeMs    int64           `json:"processing_time"`
}

type DetectResult struct {
	Timestamp         string         `json:"timestamp"`
	Parts             []Detection    `json:"parts"`
	OriginalImageURL  string         `json:"originalImageUrl"`
	AnnotatedImageURL string         `json:"annotatedImageUrl"`
	Metadata          DetectMetadata `json:"metadata"`
}

// MaskedDetection is a detection the mask script produced a mask for.
type MaskedDetection struct {
	Detection
	MaskURL     string `json:"mask_url"`
	DetectionID string `json:"detection_id"`
}

type DetectSegmentMetadata struct {
	DetectMetadata
	TotalSegments  int `json:"total_segments"`
	FailedSegments int `json:"failed_segments"`
}

type DetectSegmentResult struct {
	Timestamp         string                `json:"timestamp"`
	DetectedParts     []Detection           `json:"detectedParts"`
	SegmentedParts    []MaskedDetection     `json:"segmentedParts"`
	OriginalImageURL  string                `json:"originalImageUrl"`
	AnnotatedImageURL string                `json:"annotatedImageUrl"`
	Metadata          DetectSegmentMetadata `json:"metadata"`
}

type Classification struct {
	Result string `json:"result"`
}

// detectorOutput is the JSON file the detector writes.
type detectorOutput struct {
	Detections []Detection `json:"detections"`
	Metadata   struct {
		ImageDimensions     Dimensions      `json:"image_dimensions"`
		ModelInfo           json.RawMessage `json:"model_info"`
		DetectionParameters json.RawMessage `json:"detection_parameters"`
	} `json:"metadata"`
}

// Detect runs the part detector on image.  The detector is called as
// `<script> <image> <annotated.jpg> <detections.json>`; its detections are
// clipped to the image, filtered by confidence and optionally de-duplicated.
// Outputs live under <public>/detections/<timestamp>/ and are removed when
// the run fails.
func (r *Runner) Detect(ctx context.Context, image io.Reader, opts DetectOptions) (DetectResult, error) {
	res, _, err := r.detect(ctx, image, opts)
	return res, err
}

func (r *Runner) detect(ctx context.Context, image io.Reader, opts DetectOptions) (DetectResult, string, error) {
	start := r.now()
	root := filepath.Join(r.cfg.PublicDir, DetectionsDir)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return DetectResult{}, "", apperr.Wrap(apperr.CodeUpstream, err, "prepare output directory")
	}
	ts, outDir, err := r.claimDir(root)
	if err != nil {
		return DetectResult{}, "", apperr.Wrap(apperr.CodeUpstream, err, "prepare output directory")
	}
	ok := false
	defer func() {
		if !ok {
			_ = os.RemoveAll(outDir)
		}
	}()

	staged, err := r.stage(image, ts)
	if err != nil {
		return DetectResult{}, "", err
	}
	defer os.Remove(staged)
	original := filepath.Join(outDir, OriginalName)
	if err := copyFile(staged, original); err != nil {
		return DetectResult{}, "", apperr.Wrap(apperr.CodeUpstream, err, "store original")
	}

	sidecar := staged + ".detections.json"
	defer os.Remove(sidecar)
	if _, err := r.invoke(ctx, r.cfg.DetectScript, staged, filepath.Join(outDir, AnnotatedName), sidecar); err != nil {
		return DetectResult{}, "", err
	}
	raw, err := os.ReadFile(sidecar)
	if err != nil {
		return DetectResult{}, "", apperr.Wrap(apperr.CodeUpstream, err, "read detection results")
	}
	var out detectorOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return DetectResult{}, "", apperr.Wrap(apperr.CodeUpstream, err, "decode detection results")
	}

	parts := InBounds(out.Detections, out.Metadata.ImageDimensions)
	parts = AboveConfidence(parts, opts.MinConfidence)
	if opts.NMS {
		parts = SuppressOverlaps(parts, opts.IoU)
	}
	ok = true
	return DetectResult{
		Timestamp:         ts,
		Parts:             parts,
		OriginalImageURL:  publicURL(DetectionsDir, ts, OriginalName),
		AnnotatedImageURL: publicURL(DetectionsDir, ts, AnnotatedName),
		Metadata: DetectMetadata{
			TotalDetections:     len(parts),
			ImageDimensions:     out.Metadata.ImageDimensions,
			ModelInfo:           out.Metadata.ModelInfo,
			DetectionParameters: out.Metadata.DetectionParameters,
			ProcessingTimeMs:    r.now().Sub(start).Milliseconds(),
		},
	}, outDir, nil
}

// maskPrompt is one entry of the mask script's input file.
type maskPrompt struct {
	ImagePath  string       `json:"image_path"`
	Prompts    []promptSpec `json:"prompts"`
	OutputPath string       `json:"output_path"`
	Detection  struct {
		ClassName   string  `json:"class_name"`
		Confidence  float64 `json:"confidence"`
		DetectionID string  `json:"detection_id"`
	} `json:"detection_metadata"`
}

type promptSpec struct {
	Type  string `json:"type"`
	Data  any    `json:"data"`
	Label *int   `json:"label,omitempty"`
}

// DetectAndSegment runs Detect and, when withMasks is set, asks the mask
// script for one mask per detection.  A detection whose mask run fails is
// left out and counted in FailedSegments; running out of time fails the
// whole request.
func (r *Runner) DetectAndSegment(ctx context.Context, image io.Reader, opts DetectOptions, withMasks bool) (DetectSegmentResult, error) {
	start := r.now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	det, outDir, err := r.detect(ctx, image, opts)
	if err != nil {
		return DetectSegmentResult{}, err
	}
	res := DetectSegmentResult{
		Timestamp:         det.Timestamp,
		DetectedParts:     det.Parts,
		SegmentedParts:    []MaskedDetection{},
		OriginalImageURL:  det.OriginalImageURL,
		AnnotatedImageURL: det.AnnotatedImageURL,
		Metadata:          DetectSegmentMetadata{DetectMetadata: det.Metadata},
	}
	if !withMasks {
		return res, nil
	}

	for i, d := range det.Parts {
		id := "detection_" + strconv.Itoa(i)
		name := fmt.Sprintf("mask-%d-%s.png", i, unsafeName.ReplaceAllString(d.ClassName, "_"))
		if err := r.mask(ctx, outDir, name, id, d); err != nil {
			if ctx.Err() != nil {
				_ = os.RemoveAll(outDir)
				return DetectSegmentResult{}, apperr.New(apperr.CodeSegmentationTimeout, fmt.Sprintf("segmentation exceeded %s", r.cfg.Timeout))
			}
			res.Metadata.FailedSegments++
			continue
		}
		res.SegmentedParts = append(res.SegmentedParts, MaskedDetection{
			Detection:   d,
			MaskURL:     publicURL(DetectionsDir, det.Timestamp, name),
			DetectionID: id,
		})
	}
	res.Metadata.TotalSegments = len(res.SegmentedParts)
	res.Metadata.ProcessingTimeMs = r.now().Sub(start).Milliseconds()
	return res, nil
}

func (r *Runner) mask(ctx context.Context, outDir, name, id string, d Detection) error {
	foreground := 1
	in := maskPrompt{
		ImagePath:  filepath.Join(outDir, OriginalName),
		OutputPath: filepath.Join(outDir, name),
		Prompts: []promptSpec{
			{Type: "point", Data: d.CenterPoint, Label: &foreground},
			{Type: "box", Data: d.BBox},
		},
	}
	in.Detection.ClassName = d.ClassName
	in.Detection.Confidence = d.Confidence
	in.Detection.DetectionID = id

	body, err := json.Marshal([]maskPrompt{in})
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(r.cfg.TempDir, "mask-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(body); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if _, err := r.invoke(ctx, r.cfg.MaskScript, f.Name()); err != nil {
		return err
	}
	if _, err := os.Stat(in.OutputPath); err != nil {
		return fmt.Errorf("mask %s not written: %w", name, err)
	}
	return nil
}

// Classify asks the classifier whether image shows a car.  The classifier
// prints its verdict on stdout.
func (r *Runner) Classify(ctx context.Context, image io.Reader) (Classification, error) {
	staged, err := r.stage(image, "classify")
	if err != nil {
		return Classification{}, err
	}
	defer os.Remove(staged)

	out, err := r.invoke(ctx, r.cfg.ClassifyScript, staged)
	if err != nil {
		return Classification{}, err
	}
	verdict := strings.TrimSpace(out)
	if verdict == "" {
		return Classification{}, apperr.New(apperr.CodeUpstream, "classifier returned no result")
	}
	return Classification{Result: verdict}, nil
}

// InBounds drops detections whose box or center lies outside the image or
// whose box is empty.  Unknown dimensions keep everything.
func InBounds(dets []Detection, dim Dimensions) []Detection {
	out := []Detection{}
	for _, d := range dets {
		if dim.Width <= 0 || dim.Height <= 0 {
			out = append(out, d)
			continue
		}
		x1, y1, x2, y2 := d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]
		cx, cy := d.CenterPoint[0], d.CenterPoint[1]
		box := x1 >= 0 && y1 >= 0 && x2 <= dim.Width && y2 <= dim.Height && x1 < x2 && y1 < y2
		center := cx >= 0 && cy >= 0 && cx < dim.Width && cy < dim.Height
		if box && center {
			out = append(out, d)
		}
	}
	return out
}

func AboveConfidence(dets []Detection, threshold float64) []Detection {
	out := []Detection{}
	for _, d := range dets {
		if d.Confidence >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// SuppressOverlaps keeps the most confident of every group of same-class
// boxes overlapping by more than iou.  The result is ordered by confidence.
func SuppressOverlaps(dets []Detection, iou float64) []Detection {
	if iou <= 0 {
		iou = DefaultIoU
	}
	sorted := append([]Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Confidence > sorted[j].Confidence })
	kept := []Detection{}
	for _, d := range sorted {
		keep := true
		for _, k := range kept {
			if k.ClassName == d.ClassName && IoU(k.BBox, d.BBox) > iou {
				keep = false
				break
			}
		}
		if keep {
			kept = append(kept, d)
		}
	}
	return kept
}

// IoU is the intersection over union of two [x1, y1, x2, y2] boxes.
func IoU(a, b [4]float64) float64 {
	w := min(a[2], b[2]) - max(a[0], b[0])
	h := min(a[3], b[3]) - max(a[1], b[1])
	inter := max(0, w) * max(0, h)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
