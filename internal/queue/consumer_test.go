package queue

import (
    "context"
    "encoding/json"
    "os"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/rs/zerolog"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestHandleAppendsLines(t *testing.T) {
    path := filepath.Join(t.TempDir(), "logs", "ledger.log")
    a := AuditConsumer{LogPath: path, Log: zerolog.Nop()}
    at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

    for _, ev := range []LedgerEvent{
        {Type: EventCreditsPurchased, UserID: 7, TransactionID: 5, Credits: 100, Balance: 100, PaymentRef: "pi_1", At: at},
        {Type: EventCreditsConsumed, UserID: 7, TransactionID: 6, Credits: 1, Balance: 99, At: at},
    } {
        body, err := json.Marshal(ev)
        require.NoError(t, err)
        require.NoError(t, a.Handle(body))
    }

    data, err := os.ReadFile(path)
    require.NoError(t, err)
    lines := strings.Split(strings.TrimSpace(string(data)), "\n")
    require.Len(t, lines, 2)
    assert.Equal(t, "[2026-05-01T12:00:00Z] credits.purchased | user_id=7 | transaction_id=5 | credits=100 | balance=100 | payment_ref=pi_1", lines[0])
    assert.Contains(t, lines[1], "credits.consumed")
}

func TestHandleRejectsMalformed(t *testing.T) {
    a := AuditConsumer{LogPath: filepath.Join(t.TempDir(), "ledger.log"), Log: zerolog.Nop()}
    assert.Error(t, a.Handle([]byte("{")))
    assert.Error(t, a.Handle([]byte(`{"user_id":1}`)))
}

func TestRunStopsOnCancel(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    err := AuditConsumer{URL: "amqp://127.0.0.1:1/", Log: zerolog.Nop()}.Run(ctx)
    assert.ErrorIs(t, err, context.Canceled)
}
