package service

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/carmod-studio/internal/apperr"
	"github.com/iliyamo/carmod-studio/internal/auth"
	"github.com/iliyamo/carmod-studio/internal/logger"
	"github.com/iliyamo/carmod-studio/internal/metrics"
	"github.com/iliyamo/carmod-studio/internal/repository"
	"github.com/iliyamo/carmod-studio/internal/segment"
)

// MaxUploadBytes caps a segmentation upload.
const MaxUploadBytes = 10 << 20

// SegmentCost is the number of credits one run consumes.
const SegmentCost = 1

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

type SegmentRunner interface {
	Run(ctx context.Context, image io.Reader, parts []string) (segment.Result, error)
	Data(ts string) (segment.Data, error)
}

// PartDetector is the optional detection side of a runner.
type PartDetector interface {
	Detect(ctx context.Context, image io.Reader, opts segment.DetectOptions) (segment.DetectResult, error)
	DetectAndSegment(ctx context.Context, image io.Reader, opts segment.DetectOptions, withMasks bool) (segment.DetectSegmentResult, error)
	Classify(ctx context.Context, image io.Reader) (segment.Classification, error)
}

// Default confidence floors when the form leaves min_confidence empty.
const (
	DetectMinConfidence           = 0.25
	DetectAndSegmentMinConfidence = 0.1
)

// CreditLedger is the slice of the ledger a segmentation run pays through.
type CreditLedger interface {
	Consume(ctx context.Context, adminID uint64, credits int64, note string) (repository.Settlement, error)
	Refund(ctx context.Context, usageID uint64, note string) (repository.Settlement, error)
}

type SegmentService struct {
	runner   SegmentRunner
	detector PartDetector // nil when runner cannot detect
	ledger   CreditLedger
	metrics  *metrics.Metrics
}

func NewSegmentService(runner SegmentRunner, ledger CreditLedger, m *metrics.Metrics) *SegmentService {
	d, _ := runner.(PartDetector)
	return &SegmentService{runner: runner, detector: d, ledger: ledger, metrics: m}
}

// Upload is one multipart image with its optional part selection.
type Upload struct {
	Size          int64
	Body          io.Reader
	SelectedParts string // JSON array of class names, may be empty
}

// DetectInput is a detection request: the image plus its form options.
type DetectInput struct {
	Upload
	MinConfidence string // form value; "" picks the route default
	NMS           bool
	RunMasks      bool
}

// Segment charges the operator's admin one credit and runs the
// segmentation.  The credit is refunded when the run fails.
func (s *SegmentService) Segment(ctx context.Context, p auth.Principal, up Upload) (segment.Result, error) {
	if err := checkOperator(p); err != nil {
		return segment.Result{}, err
	}
	parts, err := parseParts(up.SelectedParts)
	if err != nil {
		return segment.Result{}, err
	}
	body, err := checkImage(up)
	if err != nil {
		return segment.Result{}, err
	}

	charge, err := s.ledger.Consume(ctx, *p.AdminID, SegmentCost, "segmentation run")
	if err != nil {
		return segment.Result{}, err
	}

	start := time.Now()
	res, err := s.runner.Run(ctx, body, parts)
	if err != nil {
		outcome := "error"
		if apperr.Is(err, apperr.CodeSegmentationTimeout) {
			outcome = "timeout"
		}
		s.metrics.ObserveSegmentation(outcome, time.Since(start))
		if _, rerr := s.ledger.Refund(context.WithoutCancel(ctx), charge.TransactionID, "segmentation "+outcome); rerr != nil {
			logger.From(ctx).Error().Err(rerr).Uint64("transaction_id", charge.TransactionID).Msg("segmentation refund failed")
		}
		logger.From(ctx).Warn().Err(err).Uint64("operator_id", p.UserID).Msg("segmentation run failed")
		return segment.Result{}, err
	}
	s.metrics.ObserveSegmentation("ok", time.Since(start))
	return res, nil
}

// DetectParts runs the part detector.  Detection is free of charge.
func (s *SegmentService) DetectParts(ctx context.Context, p auth.Principal, in DetectInput) (segment.DetectResult, error) {
	opts, body, err := s.detectRequest(p, in, DetectMinConfidence)
	if err != nil {
		return segment.DetectResult{}, err
	}
	res, err := s.detector.Detect(ctx, body, opts)
	if err != nil {
		logger.From(ctx).Warn().Err(err).Uint64("operator_id", p.UserID).Msg("part detection failed")
		return segment.DetectResult{}, err
	}
	return res, nil
}

// DetectAndSegment detects parts and, when asked, masks each of them.
func (s *SegmentService) DetectAndSegment(ctx context.Context, p auth.Principal, in DetectInput) (segment.DetectSegmentResult, error) {
	opts, body, err := s.detectRequest(p, in, DetectAndSegmentMinConfidence)
	if err != nil {
		return segment.DetectSegmentResult{}, err
	}
	res, err := s.detector.DetectAndSegment(ctx, body, opts, in.RunMasks)
	if err != nil {
		logger.From(ctx).Warn().Err(err).Uint64("operator_id", p.UserID).Msg("detect and segment failed")
		return segment.DetectSegmentResult{}, err
	}
	if res.Metadata.FailedSegments > 0 {
		logger.From(ctx).Warn().Int("failed", res.Metadata.FailedSegments).Str("timestamp", res.Timestamp).Msg("some part masks were not produced")
	}
	return res, nil
}

// Classify reports whether the uploaded image shows a car.
func (s *SegmentService) Classify(ctx context.Context, p auth.Principal, up Upload) (segment.Classification, error) {
	if s.detector == nil {
		return segment.Classification{}, apperr.New(apperr.CodeUpstream, "image analysis is not available")
	}
	if err := checkOperator(p); err != nil {
		return segment.Classification{}, err
	}
	body, err := checkImage(up)
	if err != nil {
		return segment.Classification{}, err
	}
	return s.detector.Classify(ctx, body)
}

func (s *SegmentService) detectRequest(p auth.Principal, in DetectInput, floor float64) (segment.DetectOptions, io.Reader, error) {
	if s.detector == nil {
		return segment.DetectOptions{}, nil, apperr.New(apperr.CodeUpstream, "image analysis is not available")
	}
	if err := checkOperator(p); err != nil {
		return segment.DetectOptions{}, nil, err
	}
	minConf, err := parseConfidence(in.MinConfidence, floor)
	if err != nil {
		return segment.DetectOptions{}, nil, err
	}
	body, err := checkImage(in.Upload)
	if err != nil {
		return segment.DetectOptions{}, nil, err
	}
	return segment.DetectOptions{MinConfidence: minConf, NMS: in.NMS}, body, nil
}

// checkOperator admits operators linked to an admin.
func checkOperator(p auth.Principal) error {
	if !p.IsOperator() {
		return apperr.Forbidden("only operators can run image analysis")
	}
	if p.AdminID == nil {
		return apperr.New(apperr.CodeUnscopedOperator, "operator is not associated with any admin")
	}
	return nil
}

// checkImage enforces size and sniffs the content type without consuming
// the body.
func checkImage(up Upload) (io.Reader, error) {
	if up.Body == nil || up.Size == 0 {
		return nil, fieldError("image", "is required")
	}
	if up.Size > MaxUploadBytes {
		return nil, fieldError("image", "must be at most 10MB")
	}
	body := bufio.NewReaderSize(io.LimitReader(up.Body, MaxUploadBytes), 512)
	head, _ := body.Peek(512)
	if ct := http.DetectContentType(head); !allowedImageTypes[ct] {
		return nil, fieldError("image", "must be a jpeg, png or webp image")
	}
	return body, nil
}

func parseConfidence(raw string, fallback float64) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || v < 0 || v > 1 {
		return 0, fieldError("min_confidence", "must be a number between 0 and 1")
	}
	return v, nil
}

// Data returns the stored results of run ts.  Any authenticated role may
// read them.
func (s *SegmentService) Data(_ context.Context, p auth.Principal, ts string) (segment.Data, error) {
	if !p.Role.Valid() {
		return segment.Data{}, apperr.Forbidden("unknown role")
	}
	return s.runner.Data(ts)
}

func parseParts(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var parts []string
	if err := json.Unmarshal([]byte(raw), &parts); err != nil {
		return nil, fieldError("selectedParts", "must be a JSON array of strings")
	}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
