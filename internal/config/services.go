package config

import (
    "os"
    "path/filepath"
    "time"
)

// SegmentConfig locates the image scripts and bounds each run.
type SegmentConfig struct {
    Python         string
    Script         string
    DetectScript   string
    MaskScript     string
    ClassifyScript string
    PublicDir      string
    TempDir        string
    Timeout        time.Duration
}

func LoadSegmentConfig() SegmentConfig {
    cfg := SegmentConfig{
        Python:         envStr("SEGMENT_PYTHON", "python3"),
        Script:         envStr("SEGMENT_SCRIPT", "scripts/segment.py"),
        DetectScript:   envStr("SEGMENT_DETECT_SCRIPT", "scripts/yolo_detector.py"),
        MaskScript:     envStr("SEGMENT_MASK_SCRIPT", "scripts/sam_segmentation.py"),
        ClassifyScript: envStr("SEGMENT_CLASSIFY_SCRIPT", "scripts/car.py"),
        PublicDir:      envStr("PUBLIC_DIR", "public"),
        TempDir:        envStr("SEGMENT_TMP_DIR", filepath.Join(os.TempDir(), "carmod")),
        Timeout:        envDur("SEGMENT_TIMEOUT", 60*time.Second),
    }
    if cfg.Timeout <= 0 {
        cfg.Timeout = 60 * time.Second
    }
    return cfg
}

// StripeConfig holds the payment processor secrets.  Payments are disabled
// when either value is empty.
type StripeConfig struct {
    SecretKey     string
    WebhookSecret string
}

func (c StripeConfig) Enabled() bool { return c.SecretKey != "" && c.WebhookSecret != "" }

func LoadStripeConfig() StripeConfig {
    return StripeConfig{
        SecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
        WebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
    }
}
