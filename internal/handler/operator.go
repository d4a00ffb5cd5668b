package handler

import (
    "context"
    "mime/multipart"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/carmod-studio/internal/apperr"
    "github.com/iliyamo/carmod-studio/internal/service"
)

// OperatorHandler serves the operator workspace: saved modifications,
// segmentation runs and part detection.
type OperatorHandler struct {
    Modifications *service.ModificationService
    Segments      *service.SegmentService
    // SegmentTimeout bounds a whole segmentation request, upload included.
    SegmentTimeout time.Duration
}

func NewOperatorHandler(m *service.ModificationService, s *service.SegmentService, segmentTimeout time.Duration) *OperatorHandler {
    return &OperatorHandler{Modifications: m, Segments: s, SegmentTimeout: segmentTimeout}
}

func (h *OperatorHandler) CreateModification(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    var in service.ModificationInput
    if err := bind(c, &in); err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    m, err := h.Modifications.Create(ctx, p, in)
    if err != nil {
        return err
    }
    return okMessage(c, http.StatusCreated, "modification saved", m)
}

// ListModifications: GET /v1/operator/modification?operator_id=
func (h *OperatorHandler) ListModifications(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    opID, err := queryID(c, "operator_id")
    if err != nil {
        return err
    }
    ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
    defer cancel()
    mods, err := h.Modifications.List(ctx, p, opID)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, mods)
}

// Segment: POST /v1/operator/segment, multipart with "image" and an optional
// "selectedParts" JSON array.
func (h *OperatorHandler) Segment(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    up, f, err := formImage(c)
    if err != nil {
        return err
    }
    defer f.Close()
    up.SelectedParts = c.FormValue("selectedParts")

    ctx, cancel := h.runContext(c)
    defer cancel()
    res, err := h.Segments.Segment(ctx, p, up)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, res)
}

// DetectParts: POST /v1/operator/detect-parts, multipart with "image" and
// optional "min_confidence" and "enable_nms".
func (h *OperatorHandler) DetectParts(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    up, f, err := formImage(c)
    if err != nil {
        return err
    }
    defer f.Close()

    ctx, cancel := h.runContext(c)
    defer cancel()
    res, err := h.Segments.DetectParts(ctx, p, detectInput(c, up))
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, res)
}

// DetectAndSegment: POST /v1/operator/detect-and-segment.  Same form as
// DetectParts plus "run_sam" to request per-part masks.
func (h *OperatorHandler) DetectAndSegment(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    up, f, err := formImage(c)
    if err != nil {
        return err
    }
    defer f.Close()

    ctx, cancel := h.runContext(c)
    defer cancel()
    res, err := h.Segments.DetectAndSegment(ctx, p, detectInput(c, up))
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, res)
}

// ClassifyCar: POST /v1/operator/classify-car, multipart with "image".
func (h *OperatorHandler) ClassifyCar(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    up, f, err := formImage(c)
    if err != nil {
        return err
    }
    defer f.Close()

    ctx, cancel := h.runContext(c)
    defer cancel()
    res, err := h.Segments.Classify(ctx, p, up)
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, res)
}

// formImage opens the "image" part.  The caller closes the file.
func formImage(c echo.Context) (service.Upload, multipart.File, error) {
    fh, err := c.FormFile("image")
    if err != nil {
        return service.Upload{}, nil, apperr.Validation("validation failed").WithDetails(map[string]string{"image": "is required"})
    }
    if fh.Size > service.MaxUploadBytes {
        return service.Upload{}, nil, apperr.Validation("validation failed").WithDetails(map[string]string{"image": "must be at most 10MB"})
    }
    f, err := fh.Open()
    if err != nil {
        return service.Upload{}, nil, apperr.Wrap(apperr.CodeUpstream, err, "open upload")
    }
    return service.Upload{Size: fh.Size, Body: f}, f, nil
}

func detectInput(c echo.Context, up service.Upload) service.DetectInput {
    return service.DetectInput{
        Upload:        up,
        MinConfidence: c.FormValue("min_confidence"),
        NMS:           c.FormValue("enable_nms") == "true",
        RunMasks:      c.FormValue("run_sam") == "true",
    }
}

// runContext bounds a whole image request, upload included.
func (h *OperatorHandler) runContext(c echo.Context) (context.Context, context.CancelFunc) {
    timeout := h.SegmentTimeout
    if timeout <= 0 {
        timeout = 90 * time.Second
    }
    return context.WithTimeout(c.Request().Context(), timeout)
}

// SegmentationData: GET /v1/operator/segmentation-data/:timestamp
func (h *OperatorHandler) SegmentationData(c echo.Context) error {
    p, err := principal(c)
    if err != nil {
        return err
    }
    d, err := h.Segments.Data(c.Request().Context(), p, c.Param("timestamp"))
    if err != nil {
        return err
    }
    return ok(c, http.StatusOK, d)
}
