package domain

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ScopedID prefija el id del venue para que dos cuentas nunca colisionen.
func ScopedID(venue, account, raw string) string {
	if account == "" {
		account = "unknown"
	}
	return venue + ":" + account + ":" + raw
}

// HashID construye la clave determinista de reserva: prefix:sha1(part|part|...).
func HashID(prefix string, parts ...any) string {
	sum := sha1.Sum([]byte(joinParts(parts)))
	return prefix + ":" + hex.EncodeToString(sum[:])
}

// TradeID calcula el id determinista del trade.
// Fórmula: SHA256(venue|account|symbol|side|entry|exit|entry_px|exit_px|entry_sz|exit_sz|pnl)
func TradeID(t Trade) string {
	data := joinParts([]any{
		t.Venue, t.Account, t.Symbol, string(t.Side),
		t.EntryTime, t.ExitTime,
		t.EntryPrice, t.ExitPrice,
		t.EntrySize, t.ExitSize,
		t.RealizedPnL,
	})
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

func joinParts(parts []any) string {
	normalized := make([]string, len(parts))
	for i, p := range parts {
		normalized[i] = canonical(p)
	}
	return strings.Join(normalized, "|")
}

// canonical formatea valores para que el mismo número o instante dé siempre
// el mismo texto: floats a 8 decimales, tiempos en UTC con nanosegundos.
func canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return decimal.NewFromFloat(x).StringFixed(8)
	case decimal.Decimal:
		return x.StringFixed(8)
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.UTC().Format(time.RFC3339Nano)
	case interface{ String() string }:
		return x.String()
	}
	return ""
}
